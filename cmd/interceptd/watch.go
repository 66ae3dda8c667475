package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/matgreaves/intercept/server"
	"github.com/spf13/cobra"
)

func init() {
	var stats bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the daemon's event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt)
			defer stop()
			return watch(ctx, stats)
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "include statistics updates")
	rootCmd.AddCommand(cmd)
}

// watch follows the feed, reconnecting from the last seen event when the
// stream drops.
func watch(ctx context.Context, stats bool) error {
	c := newClient()
	var last uint64
	for {
		err := c.Follow(ctx, last, stats, func(ev server.FeedEvent) error {
			last = ev.Seq
			fmt.Println(formatFeed(ev))
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, dim(fmt.Sprintf("stream lost: %v; reconnecting", err)))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}
