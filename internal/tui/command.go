// SPDX-License-Identifier: GPL-3.0-or-later

package tui

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bassosimone/sockpoll/internal/session"
)

// Endpoints are the HOST:PORT strings used when listen or connect is
// typed without an address.
type Endpoints struct {
	TCPServer string
	UDPServer string
	TCPClient string
	UDPClient string
}

// verb is the first word of a command line.
type verb string

const (
	verbListen     verb = "listen"
	verbStop       verb = "stop"
	verbConnect    verb = "connect"
	verbDisconnect verb = "disconnect"
	verbSend       verb = "send"
	verbHex        verb = "hex"
	verbCheck      verb = "check"
	verbUncheck    verb = "uncheck"
	verbAll        verb = "all"
	verbKick       verb = "kick"
	verbClear      verb = "clear"
	verbHelp       verb = "help"
	verbQuit       verb = "quit"
)

// helpText lists the commands, one per line.
var helpText = []string{
	"listen tcp|udp [HOST PORT]    start a server",
	"stop tcp|udp                  stop a server",
	"connect tcp|udp [HOST PORT]   connect a client",
	"disconnect tcp|udp            disconnect a client",
	"send server|client TEXT       send UTF-8 text",
	"hex server|client HEX         send hex bytes",
	"check N | uncheck N           mark a tcp client",
	"all                           mark every tcp client",
	"kick                          disconnect marked tcp clients",
	"clear                         clear the panels",
	"help | quit",
}

// command is a parsed command line.
type command struct {
	verb verb

	// tcp is set for the tcp target and cleared for udp.
	tcp bool

	// server is set for the server target and cleared for client.
	server bool

	host, port string

	// text is the payload of send and hex, verbatim after the target.
	text string

	// index is the zero-based checklist index of check and uncheck.
	index int
}

// mode returns the payload mode of a send or hex command.
func (c command) mode() session.Mode {
	if c.verb == verbHex {
		return session.Hex
	}
	return session.Text
}

var errEmptyCommand = errors.New("empty command")

// parseCommand parses a command line typed by the user.
func parseCommand(line string, defaults Endpoints) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errEmptyCommand
	}
	cmd := command{verb: verb(strings.ToLower(fields[0]))}
	args := fields[1:]

	switch cmd.verb {
	case verbListen, verbConnect:
		if len(args) != 1 && len(args) != 3 {
			return command{}, fmt.Errorf("usage: %s tcp|udp [HOST PORT]", cmd.verb)
		}
		tcp, err := parseProtocol(args[0])
		if err != nil {
			return command{}, err
		}
		cmd.tcp = tcp
		if len(args) == 3 {
			cmd.host, cmd.port = args[1], args[2]
			return cmd, nil
		}
		endpoint := defaults.pick(cmd.verb == verbListen, tcp)
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return command{}, fmt.Errorf("no default endpoint: %w", err)
		}
		cmd.host, cmd.port = host, port
		return cmd, nil

	case verbStop, verbDisconnect:
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: %s tcp|udp", cmd.verb)
		}
		tcp, err := parseProtocol(args[0])
		if err != nil {
			return command{}, err
		}
		cmd.tcp = tcp
		return cmd, nil

	case verbSend, verbHex:
		if len(args) < 1 {
			return command{}, fmt.Errorf("usage: %s server|client PAYLOAD", cmd.verb)
		}
		switch strings.ToLower(args[0]) {
		case "server":
			cmd.server = true
		case "client":
		default:
			return command{}, fmt.Errorf("unknown target: %s", args[0])
		}
		cmd.text = payloadAfterTarget(line)
		return cmd, nil

	case verbCheck, verbUncheck:
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: %s N", cmd.verb)
		}
		index, err := strconv.Atoi(args[0])
		if err != nil || index < 1 {
			return command{}, fmt.Errorf("invalid client number: %s", args[0])
		}
		cmd.index = index - 1
		return cmd, nil

	case verbAll, verbKick, verbClear, verbHelp, verbQuit:
		if len(args) != 0 {
			return command{}, fmt.Errorf("usage: %s", cmd.verb)
		}
		return cmd, nil

	default:
		return command{}, fmt.Errorf("unknown command: %s (try help)", fields[0])
	}
}

func parseProtocol(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "tcp":
		return true, nil
	case "udp":
		return false, nil
	default:
		return false, fmt.Errorf("unknown protocol: %s", value)
	}
}

// payloadAfterTarget returns what follows the second word of line, so that
// inner spacing of the payload survives.
func payloadAfterTarget(line string) string {
	rest := strings.TrimLeft(line, " \t")
	for range 2 {
		cut := strings.IndexAny(rest, " \t")
		if cut < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[cut:], " \t")
	}
	return rest
}

func (e Endpoints) pick(server, tcp bool) string {
	switch {
	case server && tcp:
		return e.TCPServer
	case server:
		return e.UDPServer
	case tcp:
		return e.TCPClient
	default:
		return e.UDPClient
	}
}
