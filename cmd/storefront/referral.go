package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func referralCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Capture or show the referral code attributed to this session",
	}

	capture := &cobra.Command{
		Use:   "capture <entry-url>",
		Short: "Record the ?ref= code of the link the shopper arrived from",
		Long: `Reads the ref query parameter of the entry URL and stores it for the session
when it names an active referral code. Invalid or inactive codes are ignored
and any previously captured code is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.local(); err != nil {
				return err
			}
			referrals, err := a.referralService(cmd.Context())
			if err != nil {
				return err
			}
			code, captured, err := referrals.Capture(cmd.Context(), a.session, args[0])
			if err != nil {
				return err
			}
			if !captured {
				fmt.Fprintln(a.out, "No valid referral code in the link.")
				return nil
			}
			fmt.Fprintf(a.out, "Referral %s captured.\n", code)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the captured referral code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.local(); err != nil {
				return err
			}
			referrals, err := a.referralService(cmd.Context())
			if err != nil {
				return err
			}
			code, err := referrals.Current(cmd.Context(), a.session)
			if err != nil {
				return err
			}
			if code == "" {
				fmt.Fprintln(a.out, "No referral captured.")
				return nil
			}
			fmt.Fprintln(a.out, code)
			return nil
		},
	}

	cmd.AddCommand(capture, show)
	return cmd
}
