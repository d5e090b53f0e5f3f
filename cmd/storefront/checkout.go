package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/services"
)

var errCheckoutFailed = errors.New("checkout failed")

func checkoutCmd(a *app) *cobra.Command {
	var (
		customer       domain.Customer
		card           payments.CardInput
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Pay the deposit for the cart and record the order",
		Long: `Charges the fixed per-traveller deposit for every unit in the cart and writes
the outcome to the order ledger. A completed checkout empties the cart; a failed
one leaves it untouched so it can be retried.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.local(); err != nil {
				return err
			}
			cart, err := a.carts.Load(ctx, a.session)
			if err != nil {
				return err
			}
			if cart.IsEmpty() {
				return errors.New("cart is empty")
			}
			checkout, err := a.checkoutService(ctx)
			if err != nil {
				return err
			}

			result, err := checkout.Checkout(ctx, services.CheckoutCommand{
				SessionID:      a.session,
				Lines:          cart.Lines,
				OriginalAmount: cart.TotalPrice(),
				Customer:       customer,
				Card:           card,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Status:  %s\n", result.Status)
			fmt.Fprintf(a.out, "Amount:  %s\n", euros(result.Amount))
			if result.Attempt.ID != "" {
				fmt.Fprintf(a.out, "Payment: %s\n", result.Attempt.ID)
			}
			if result.Message != "" {
				fmt.Fprintln(a.out, result.Message)
			}
			if result.LedgerErr != nil {
				a.logger.Sugar().Warnw("order not recorded", "error", result.LedgerErr)
			}
			if result.Status == domain.OrderStatusFailed {
				if result.Cause != nil {
					return fmt.Errorf("%w: %v", errCheckoutFailed, result.Cause)
				}
				return errCheckoutFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&customer.Name, "name", "", "Customer full name")
	flags.StringVar(&customer.Email, "email", "", "Customer e-mail for the confirmation")
	flags.StringVar(&customer.Phone, "phone", "", "Customer phone number")
	flags.StringVar(&card.Token, "card-token", "", "Tokenised card (tok_...)")
	flags.StringVar(&card.PaymentMethodID, "payment-method", "", "Saved payment method (pm_...)")
	flags.StringVar(&idempotencyKey, "idempotency-key", "", "Key reused when retrying the same attempt")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
