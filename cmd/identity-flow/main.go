package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	identityflow "github.com/0xsequence/identity-flow"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigFile string
	APIURL     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "identity-flow",
		Short:   "Staged identity verification client",
		Version: identityflow.VERSION,
		Long: `identity-flow walks through the verification stages requested by the stage server:
email, password, motion pattern and face capture, in whatever order the server asks.

Available subcommands:
  login       Run the verification flow interactively
  validate    Check whether an auth session id is still valid

Examples:
  identity-flow login --api http://localhost:9999
  identity-flow login --photo face.jpg --device-id pico-7
  identity-flow validate 6f1c2f0e-2a4b-4e0a-9b1e-2f4a0f9e4d11`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", os.Getenv("CONFIG"), "Path to TOML configuration file (default: $CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "Stage server base URL, overrides api.base_url")

	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))

	return cmd
}
