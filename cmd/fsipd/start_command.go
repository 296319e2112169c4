package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fsipd/internal/daemonrun"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var foreground bool
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start capturing on the configured port",
		Long: "Start binds the configured port on TCP and UDP over IPv4 and IPv6 and appends\n" +
			"one line per received message to the capture log. Unless --foreground is given\n" +
			"(or FSIPD_NO_FORK=1 is set) it detaches and returns once the daemon holds the\n" +
			"pid file and every socket. SIGHUP reopens the capture log; SIGINT and SIGTERM stop it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if foreground {
				cfg.Daemon.Foreground = true
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			out := cmd.OutOrStdout()
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    strings.TrimSpace(logLevel),
				Development: development,
				Executable:  exe,
				Args:        os.Args[1:],
				Detached: func(pid int, logPath string) {
					fmt.Fprintf(out, "fsipd started (pid %d)\n", pid)
					if logPath != "" {
						fmt.Fprintf(out, "Diagnostics: %s\n", logPath)
					}
				},
			})
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Stay attached to the terminal")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured diagnostic log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in diagnostics")
	return cmd
}
