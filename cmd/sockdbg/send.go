// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bassosimone/sockpoll"
	"github.com/bassosimone/sockpoll/internal/session"
)

var (
	sendHex  bool
	sendWait time.Duration
)

// sendCmd performs a single exchange.
var sendCmd = &cobra.Command{
	Use:   "send tcp|udp HOST PORT PAYLOAD",
	Short: "Send one payload and print the reply",
	Long: `Connect to HOST PORT, send PAYLOAD and print the first reply
received within --wait. A zero --wait sends without waiting.

With --hex, PAYLOAD is a sequence of hex bytes (e.g. "68 69 0a").`,
	Example: `  sockdbg send tcp 127.0.0.1 8080 hello
  sockdbg send udp 127.0.0.1 8081 --hex "de ad be ef" --wait 5s`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := session.Text
		if sendHex {
			mode = session.Hex
		}
		payload, err := session.EncodePayload(mode, args[3])
		if err != nil {
			return err
		}
		engine, err := appConfig.Engine()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		endpoint := sockpoll.HostPort{Host: args[1], Port: args[2]}
		log := logger.With(slog.String("spanID", sockpoll.NewSpanID()))

		switch strings.ToLower(args[0]) {
		case "tcp":
			return sendTCP(ctx, cmd.OutOrStdout(), engine, log, endpoint, payload)
		case "udp":
			return sendUDP(ctx, cmd.OutOrStdout(), engine, log, endpoint, payload)
		default:
			return fmt.Errorf("unknown protocol: %s", args[0])
		}
	},
}

// sendTCP connects, sends and waits for one reply. The peer is disconnected
// when ctx is done, which also interrupts the blocking read, and in any
// case before returning.
func sendTCP(ctx context.Context, w io.Writer, engine *sockpoll.Config, log sockpoll.SLogger,
	endpoint sockpoll.HostPort, payload []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := sockpoll.NewCancelWatchFunc((*sockpoll.TCPPeer).Disconnect)
	connectOp := sockpoll.Compose3(
		sockpoll.NewResolveFunc(),
		sockpoll.NewTCPConnectFunc(engine, log),
		watcher,
	)
	peer, err := connectOp.Call(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if !watcher.Stop() {
			_ = peer.Disconnect()
		}
	}()

	count, err := peer.Send(payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sent %d bytes to %s\n", count, peer.Address())
	if sendWait <= 0 {
		return nil
	}

	timer := time.AfterFunc(sendWait, cancel)
	defer timer.Stop()
	data, err := peer.Read()
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(w, "no reply within %s\n", sendWait)
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "reply from %s: %s\n", peer.Address(), session.FormatPayload(data))
	return nil
}

// sendUDP sends one datagram and waits for one reply. The socket is
// closed before returning.
func sendUDP(ctx context.Context, w io.Writer, engine *sockpoll.Config, log sockpoll.SLogger,
	endpoint sockpoll.HostPort, payload []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := sockpoll.NewCancelWatchFunc((*sockpoll.UDPPeer).Shutdown)
	connectOp := sockpoll.Compose3(
		sockpoll.NewResolveFunc(),
		sockpoll.NewUDPConnectFunc(engine, log),
		watcher,
	)
	peer, err := connectOp.Call(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if !watcher.Stop() {
			_ = peer.Shutdown()
		}
	}()

	count, err := peer.Send(payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sent %d bytes to %s from %s\n", count, peer.Address(), peer.LocalAddr())
	if sendWait <= 0 {
		return nil
	}

	readCtx, cancelRead := context.WithTimeout(ctx, sendWait)
	defer cancelRead()
	dgram, err := peer.Read(readCtx)
	if err != nil {
		if readCtx.Err() != nil {
			fmt.Fprintf(w, "no reply within %s\n", sendWait)
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "reply from %s: %s\n", dgram.Source, session.FormatPayload(dgram.Data))
	return nil
}

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "decode PAYLOAD as hex bytes")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 2*time.Second, "how long to wait for a reply")
	rootCmd.AddCommand(sendCmd)
}
