package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/matgreaves/intercept/server"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show proxy, statistics and intercept state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := newClient().Status(cmdContext(cmd))
				if err != nil {
					return err
				}
				renderStatus(os.Stdout, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the proxy listener",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := newClient().Start(cmdContext(cmd)); err != nil {
					return err
				}
				fmt.Println(green("Proxy started"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the proxy listener",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := newClient().Stop(cmdContext(cmd)); err != nil {
					return err
				}
				fmt.Println("Proxy stopped")
				return nil
			},
		},
		&cobra.Command{
			Use:   "interfaces",
			Short: "List addresses the proxy can bind to",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ifaces, err := newClient().Interfaces(cmdContext(cmd))
				if err != nil {
					return err
				}
				fmt.Println(strings.Join(ifaces, "\n"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "messages",
			Short: "Print the status message log",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				msgs, err := newClient().StatusMessages(cmdContext(cmd))
				if err != nil {
					return err
				}
				for _, m := range msgs {
					fmt.Println(colorStatus(m))
				}
				return nil
			},
		},
		configCmd(),
	)
}

func configCmd() *cobra.Command {
	var req server.ConfigRequest
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the proxy listener configuration",
		Long: "Without flags, prints the current configuration. With any flag set,\n" +
			"applies a new configuration; the proxy must be stopped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			c := newClient()
			fl := cmd.Flags()
			if !fl.Changed("bind") && !fl.Changed("port") && !fl.Changed("log-file") && !fl.Changed("verbose") {
				cfg, err := c.Config(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n%s %s\n%s %s\n", bold("Listen:"), cfg.Addr(),
					bold("Log file:"), cfg.LogFile, bold("Verbose:"), onOff(cfg.Verbose))
				return nil
			}

			cur, err := c.Config(ctx)
			if err != nil {
				return err
			}
			if !fl.Changed("bind") {
				req.BindAddress = cur.BindAddress
			}
			if !fl.Changed("port") {
				req.Port = fmt.Sprint(cur.Port)
			}
			if !fl.Changed("log-file") {
				req.LogFile = cur.LogFile
			}
			if !fl.Changed("verbose") {
				req.Verbose = cur.Verbose
			}
			cfg, err := c.SetConfig(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration applied: %s\n", cfg.Addr())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&req.BindAddress, "bind", "", "bind address")
	fl.StringVar(&req.Port, "port", "", "listen port")
	fl.StringVar(&req.LogFile, "log-file", "", "engine log file")
	fl.BoolVar(&req.Verbose, "verbose", false, "verbose engine logging")
	return cmd
}
