// SPDX-License-Identifier: GPL-3.0-or-later

// Command sockdbg is an interactive TCP and UDP debugging tool.
//
// Without arguments it opens a terminal UI with a server panel (TCP and UDP
// servers, TCP client checklist) and a client panel (TCP and UDP clients).
// The send subcommand performs a single exchange from the command line.
package main

func main() {
	Execute()
}
