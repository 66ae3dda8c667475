package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matgreaves/intercept/client"
	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/server"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "intercept",
		Short: "Inspect and decide on held messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showIntercept(cmd, func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
				return c.Intercept(ctx)
			})
		},
	}
	cmd.AddCommand(
		interceptAction("show", "Show the held message", func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
			return c.Intercept(ctx)
		}),
		interceptAction("forward", "Forward the held message, with any edit applied", func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
			return c.Forward(ctx)
		}),
		interceptAction("drop", "Drop the held message", func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
			return c.Drop(ctx)
		}),
		interceptAction("enable", "Start holding messages", func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
			on := true
			return c.SetIntercept(ctx, &on, nil, nil)
		}),
		interceptAction("disable", "Stop holding messages and forward any held one", func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
			off := false
			return c.SetIntercept(ctx, &off, nil, nil)
		}),
		&cobra.Command{
			Use:       "direction none|client-to-server|server-to-client|both",
			Short:     "Choose which direction is held",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"none", "client-to-server", "server-to-client", "both"},
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := engine.ParseDirection(args[0])
				if err != nil {
					return err
				}
				return showIntercept(cmd, func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
					return c.SetIntercept(ctx, nil, &d, nil)
				})
			},
		},
		&cobra.Command{
			Use:       "view text|hex",
			Short:     "Choose how held messages are rendered; discards any edit",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"text", "hex"},
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := codec.ParseViewMode(args[0])
				if err != nil {
					return err
				}
				return showIntercept(cmd, func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
					return c.SetIntercept(ctx, nil, nil, &m)
				})
			},
		},
		editCmd(),
	)
	rootCmd.AddCommand(cmd)
}

type interceptFunc func(ctx context.Context, c *client.Client) (server.InterceptView, error)

func interceptAction(use, short string, fn interceptFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showIntercept(cmd, fn)
		},
	}
}

func showIntercept(cmd *cobra.Command, fn interceptFunc) error {
	v, err := fn(cmdContext(cmd), newClient())
	if err != nil {
		return err
	}
	renderIntercept(os.Stdout, v)
	return nil
}

func editCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit [text]",
		Short: "Replace the held message's text in the current view mode",
		Long: "The replacement is given as an argument, read from --file, or read\n" +
			"from stdin when neither is given. In hex view it must be pairs of\n" +
			"hex digits; spaces and hyphens are ignored.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := editText(args, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return showIntercept(cmd, func(ctx context.Context, c *client.Client) (server.InterceptView, error) {
				return c.Edit(ctx, text)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the replacement from a file")
	return cmd
}

func editText(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSuffix(string(b), "\n"), nil
}
