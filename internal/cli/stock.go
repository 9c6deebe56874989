package cli

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) stockCmd() *cobra.Command {
	stock := &cobra.Command{
		Use:   "stock",
		Short: "Inspect and correct per-size stock",
	}

	var (
		productID int64
		sizeID    int64
		qty       int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Overwrite the stock counter of a product size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			line, err := b.Stock.SetStock(cmd.Context(), productID, sizeID, qty)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "product %d size %d stock %d\n", line.ProductID, line.SizeID, line.Stock)
			return nil
		},
	}
	set.Flags().Int64Var(&productID, "product", 0, "product id")
	set.Flags().Int64Var(&sizeID, "size", 0, "size id (defaults to the unique size)")
	set.Flags().IntVar(&qty, "qty", 0, "new stock")
	_ = set.MarkFlagRequired("product")
	_ = set.MarkFlagRequired("qty")

	var listProduct int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List stock rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			lines, err := b.Stock.Inventory(cmd.Context(), listProduct)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "PRODUCT\tSIZE\tSTOCK\n")
			for _, l := range lines {
				printf(tw, "%d\t%d\t%d\n", l.ProductID, l.SizeID, l.Stock)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64Var(&listProduct, "product", 0, "only this product")

	stock.AddCommand(set, list)
	return stock
}
