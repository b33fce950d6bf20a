// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bassosimone/sockpoll/internal/session"
	"github.com/bassosimone/sockpoll/internal/tui"
)

// uiCmd launches the interactive terminal UI.
var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the interactive terminal UI (default)",
	Long: `Launch the interactive terminal UI. Type commands at the prompt:

  listen tcp|udp [HOST PORT]    start a server
  connect tcp|udp [HOST PORT]   connect a client
  send server|client TEXT       send UTF-8 text
  hex server|client HEX         send hex bytes
  help                          list every command

Without HOST PORT the endpoints of the configuration are used.
Esc or Ctrl+C quits.`,
	Args: cobra.NoArgs,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	engine, err := appConfig.Engine()
	if err != nil {
		return err
	}
	sess := session.New(engine, logger)
	defer sess.Close()

	endpoints := tui.Endpoints{
		TCPServer: appConfig.Endpoints.TCPServer,
		UDPServer: appConfig.Endpoints.UDPServer,
		TCPClient: appConfig.Endpoints.TCPClient,
		UDPClient: appConfig.Endpoints.UDPClient,
	}
	p := tea.NewProgram(tui.New(sess, endpoints), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func init() {
	rootCmd.AddCommand(uiCmd)
}
