package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/storefront-orders/internal/postgres"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Applies the embedded schema (products, sizes, stock, orders, lines and
the status timeline). Every statement is idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.DB == nil {
				return errors.New("no database configured")
			}
			if err := postgres.Migrate(cmd.Context(), b.DB); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "schema up to date\n")
			return nil
		},
	}
}
