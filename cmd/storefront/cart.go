package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bonaevents/storefront/internal/domain"
)

func packagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List the travel packages on sale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.local(); err != nil {
				return err
			}
			for _, pkg := range a.catalog.ListPackages(cmd.Context()) {
				fmt.Fprintf(a.out, "%-3s %-22s %10s  %s (%.1f)\n", pkg.ID, pkg.Name, euros(pkg.Price), pkg.Location, pkg.Rating)
				if a.verbose {
					for _, feature := range pkg.Features {
						fmt.Fprintf(a.out, "      - %s\n", feature)
					}
				}
			}
			return nil
		},
	}
}

func cartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and edit the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.local(); err != nil {
				return err
			}
			cart, err := a.carts.Load(cmd.Context(), a.session)
			if err != nil {
				return err
			}
			printCart(a.out, cart, domain.DepositPerPackage)
			return nil
		},
	}

	var quantity int
	add := &cobra.Command{
		Use:   "add <package-id>",
		Short: "Add a package to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.local(); err != nil {
				return err
			}
			cart, err := a.carts.Add(cmd.Context(), a.session, args[0], quantity)
			if err != nil {
				return err
			}
			printCart(a.out, cart, domain.DepositPerPackage)
			return nil
		},
	}
	add.Flags().IntVarP(&quantity, "qty", "q", 1, "Number of travellers")

	set := &cobra.Command{
		Use:   "set <package-id> <quantity>",
		Short: "Change the quantity of a line; zero removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number", args[1])
			}
			if err := a.local(); err != nil {
				return err
			}
			cart, err := a.carts.SetQuantity(cmd.Context(), a.session, args[0], qty)
			if err != nil {
				return err
			}
			printCart(a.out, cart, domain.DepositPerPackage)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <package-id>",
		Short: "Remove a package from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.local(); err != nil {
				return err
			}
			cart, err := a.carts.Remove(cmd.Context(), a.session, args[0])
			if err != nil {
				return err
			}
			printCart(a.out, cart, domain.DepositPerPackage)
			return nil
		},
	}

	clearCart := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.local(); err != nil {
				return err
			}
			if err := a.carts.Clear(cmd.Context(), a.session); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Cart cleared.")
			return nil
		},
	}

	cmd.AddCommand(add, set, remove, clearCart)
	return cmd
}

func printCart(w io.Writer, cart domain.Cart, deposit int64) {
	if cart.IsEmpty() {
		fmt.Fprintln(w, "Cart is empty.")
		return
	}
	for _, line := range cart.Lines {
		subtotal := line.Package.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		fmt.Fprintf(w, "%-3s %-22s x%-3d %10s\n", line.Package.ID, line.Package.Name, line.Quantity, euros(subtotal))
	}
	fmt.Fprintln(w, strings.Repeat("-", 42))
	fmt.Fprintf(w, "%-30s %10s\n", fmt.Sprintf("Total (%d items)", cart.TotalItems()), euros(cart.TotalPrice()))
	fmt.Fprintf(w, "%-30s %10s\n", "Deposit due now", euros(cart.DepositTotal(deposit)))
}

func euros(amount decimal.Decimal) string {
	return "€" + amount.StringFixed(2)
}
