// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"fmt"

	"github.com/bassosimone/sockpoll"
)

// Panel selects the output panel an [Event] belongs to.
type Panel int

const (
	// ServerPanel collects the events of the TCP and UDP servers.
	ServerPanel Panel = iota

	// ClientPanel collects the events of the TCP and UDP clients.
	ClientPanel
)

// String implements [fmt.Stringer].
func (p Panel) String() string {
	switch p {
	case ServerPanel:
		return "server"
	case ClientPanel:
		return "client"
	default:
		return fmt.Sprintf("Panel(%d)", int(p))
	}
}

// Level is the severity of an [Event].
type Level int

const (
	// Info is a lifecycle notice (listening, connected, disconnected).
	Info Level = iota

	// Data is a payload that was sent or received.
	Data

	// Error is a failure the user should see.
	Error
)

// Event is one line of output for a panel.
type Event struct {
	Panel Panel
	Level Level
	Text  string
}

// Op is a follow-up operation that may block until there is something to
// report. Front ends run it off their render loop and feed the [Result]
// back, running its Next ops in turn.
type Op func(ctx context.Context) Result

// Result is the outcome of a request or of an [Op].
type Result struct {
	// Events are the lines to append to the panels.
	Events []Event

	// Next are the operations to run next, usually a re-issued accept or read.
	Next []Op
}

func (r *Result) add(panel Panel, level Level, format string, args ...any) {
	r.Events = append(r.Events, Event{Panel: panel, Level: level, Text: fmt.Sprintf(format, args...)})
}

func (r *Result) info(panel Panel, format string, args ...any) {
	r.add(panel, Info, format, args...)
}

func (r *Result) data(panel Panel, format string, args ...any) {
	r.add(panel, Data, format, args...)
}

func (r *Result) errorf(panel Panel, format string, args ...any) {
	r.add(panel, Error, format, args...)
}

// fail records err unless it is nil or ignorable. A [sockpoll.PeerClosed]
// error is an orderly end and is recorded at [Info] level.
func (r *Result) fail(panel Panel, err error) {
	switch {
	case err == nil, sockpoll.IsIgnorable(err):
	case sockpoll.KindOf(err) == sockpoll.PeerClosed:
		r.info(panel, "%s", err)
	default:
		r.errorf(panel, "%s", err)
	}
}

func (r *Result) then(ops ...Op) {
	r.Next = append(r.Next, ops...)
}
