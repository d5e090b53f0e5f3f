package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

const (
	defaultStateFile = ".storefront-state.json"
	defaultAPIURL    = "http://localhost:8080"
	defaultSession   = "local"
)

func main() {
	a := &app{}
	rootCmd := newRootCmd(a)

	err := rootCmd.Execute()
	a.close(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "BonaEvents storefront client: cart, referral capture and checkout",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.out = cmd.OutOrStdout()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.statePath, "state", envOrDefault("STOREFRONT_STATE_FILE", defaultStateFile), "File holding the cart and captured referral code")
	flags.StringVar(&a.apiURL, "api", envOrDefault("STOREFRONT_API_URL", defaultAPIURL), "Base URL of the payment adapter")
	flags.StringVar(&a.session, "session", defaultSession, "Session name inside the state file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log service events to stderr")

	rootCmd.AddCommand(packagesCmd(a))
	rootCmd.AddCommand(cartCmd(a))
	rootCmd.AddCommand(referralCmd(a))
	rootCmd.AddCommand(checkoutCmd(a))

	return rootCmd
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
