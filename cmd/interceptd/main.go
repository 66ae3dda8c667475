package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/matgreaves/intercept/client"
	"github.com/matgreaves/intercept/config"
	"github.com/spf13/cobra"
)

var (
	apiAddr string
	noColor bool

	rootCmd = &cobra.Command{
		Use:           "interceptd",
		Short:         "TCP interception proxy with an operator API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	def := os.Getenv("INTERCEPTD_ADDR")
	if def == "" {
		def = config.DefaultListen
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", def, "operator API address (env INTERCEPTD_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interceptd: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(apiAddr)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
