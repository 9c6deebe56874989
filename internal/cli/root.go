// Package cli implements shopctl, the operator tool for schema and stock.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
)

// StockService is the part of *orders.Service the stock commands use.
type StockService interface {
	SetStock(ctx context.Context, productID, sizeID int64, stock int) (orders.InventoryLine, error)
	Inventory(ctx context.Context, productID int64) ([]orders.InventoryLine, error)
}

// Backend is what a command runs against. Close releases the connections.
type Backend struct {
	DB    postgres.Execer
	Stock StockService
	Close func()
}

// Opener connects to the backing services using the DSN from flags or env.
type Opener func(ctx context.Context, dsn string) (*Backend, error)

type app struct {
	open Opener
	dsn  string
}

// NewRootCommand builds the shopctl command tree.
func NewRootCommand(open Opener, defaultDSN string) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "Storefront orders admin tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.dsn, "dsn", defaultDSN, "PostgreSQL connection string")
	root.AddCommand(a.migrateCmd(), a.stockCmd())
	return root
}

func (a *app) backend(cmd *cobra.Command) (*Backend, error) {
	b, err := a.open(cmd.Context(), a.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if b.Close == nil {
		b.Close = func() {}
	}
	return b, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
