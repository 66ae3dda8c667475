package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(connectionsCmd(), trafficCmd(), exportCmd())
}

func connectionsCmd() *cobra.Command {
	var reset, csv bool
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Show the connection log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			c := newClient()
			switch {
			case reset:
				return c.ClearConnections(ctx)
			case csv:
				return c.ExportCSV(ctx, "connections", os.Stdout)
			}
			events, err := c.Connections(ctx)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(os.Stderr, "No connections logged.")
				return nil
			}
			renderConnections(os.Stdout, events)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "clear the connection log")
	cmd.Flags().BoolVar(&csv, "csv", false, "print the log as CSV")
	return cmd
}

func trafficCmd() *cobra.Command {
	var reset, csv, full bool
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Show the traffic history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			c := newClient()
			switch {
			case reset:
				return c.ClearTraffic(ctx)
			case csv:
				return c.ExportCSV(ctx, "traffic", os.Stdout)
			}
			events, err := c.Traffic(ctx)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(os.Stderr, "No traffic logged.")
				return nil
			}
			renderTraffic(os.Stdout, events, full)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "clear the traffic history")
	cmd.Flags().BoolVar(&csv, "csv", false, "print the history as CSV")
	cmd.Flags().BoolVar(&full, "full", false, "do not truncate payloads")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write both logs as CSV files on the daemon host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := newClient().ExportToDir(cmdContext(cmd))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println(f)
			}
			return nil
		},
	}
}
