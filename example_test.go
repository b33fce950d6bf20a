// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/sockpoll"
)

// This example validates user input the way an address form does.
func ExampleResolveEndpoint() {
	addr, err := sockpoll.ResolveEndpoint("127.0.0.1", "8080")
	fmt.Println(addr, err)

	_, err = sockpoll.ResolveEndpoint("localhost", "8080")
	fmt.Println(err)

	_, err = sockpoll.ResolveEndpoint("127.0.0.1", "99999")
	fmt.Println(err)

	// Output:
	// 127.0.0.1:8080 <nil>
	// invalid IP address: localhost
	// invalid port: 99999
}

// This example shows a TCP server and client exchanging a frame on
// the loopback interface.
func Example_tcpLoopback() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Log to stderr at debug level so that the example output stays clean.
	cfg := sockpoll.NewConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})).With("spanID", sockpoll.NewSpanID())

	listener := runtimex.PanicOnError1(sockpoll.NewTCPListenFunc(cfg, logger).Call(
		ctx, netip.MustParseAddrPort("127.0.0.1:0")))
	defer listener.Shutdown()

	// Resolve the user input and connect in a single pipeline.
	connectOp := sockpoll.Compose2(sockpoll.NewResolveFunc(), sockpoll.NewTCPConnectFunc(cfg, logger))
	client := runtimex.PanicOnError1(connectOp.Call(ctx, sockpoll.HostPort{
		Host: "127.0.0.1",
		Port: fmt.Sprint(listener.Address().Port()),
	}))
	defer client.Disconnect()

	server := runtimex.PanicOnError1(listener.Accept(ctx))
	defer server.Release()

	runtimex.PanicOnError1(client.Send([]byte("hello")))
	fmt.Printf("server got %q\n", runtimex.PanicOnError1(server.ReadContext(ctx)))

	for _, report := range listener.Broadcast([]byte("welcome"), nil) {
		fmt.Printf("sent %d bytes, err=%v\n", report.Count, report.Err)
	}
	fmt.Printf("client got %q\n", runtimex.PanicOnError1(client.ReadContext(ctx)))

	// Output:
	// server got "hello"
	// sent 7 bytes, err=<nil>
	// client got "welcome"
}
