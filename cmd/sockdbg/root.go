// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bassosimone/sockpoll/internal/config"
)

var (
	// Global flags
	cfgFile  string
	logFile  string
	logLevel string

	// Shared state set during PersistentPreRunE
	appConfig *config.Config
	logger    *slog.Logger
	logSink   io.Closer
)

// rootCmd is the base command for sockdbg.
var rootCmd = &cobra.Command{
	Use:   "sockdbg",
	Short: "Interactive TCP and UDP socket debugger",
	Long: `sockdbg starts TCP and UDP servers, connects TCP and UDP clients and
shows every payload sent or received. Addresses are dotted IPv4 literals.

Run without a subcommand to open the terminal UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if logFile != "" {
			appConfig.Log.File = logFile
		}
		if logLevel != "" {
			appConfig.Log.Level = logLevel
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}

		logger, logSink, err = newLogger(appConfig.Log)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logSink == nil {
			return nil
		}
		err := logSink.Close()
		logSink = nil
		return err
	},
	RunE: runUI,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./sockdbg.yaml or ~/.sockdbg/sockdbg.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write JSON events to this file (rotated)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn, error (default \"info\")")
}
