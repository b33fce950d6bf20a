// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewObserveConnFunc populates all fields from Config and the provided logger.
func TestNewObserveConnFunc(t *testing.T) {
	fn := NewObserveConnFunc(NewConfig(), DefaultSLogger())

	require.NotNil(t, fn)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Each method delegates to the wrapped conn, propagates its error and
// emits the expected events.
func TestObservedConnDelegates(t *testing.T) {
	wantErr := errors.New("mocked error")
	deadline := time.Now().Add(time.Hour)

	tests := []struct {
		// name describes what this test case verifies.
		name string

		// setup configures the mock conn to fail with wantErr.
		setup func(conn *netstub.FuncConn)

		// run invokes the method under test.
		run func(conn net.Conn) error

		// wantMessages are the expected log messages.
		wantMessages []string
	}{
		{
			name: "Read",
			setup: func(conn *netstub.FuncConn) {
				conn.ReadFunc = func(b []byte) (int, error) { return 0, wantErr }
			},
			run: func(conn net.Conn) error {
				_, err := conn.Read(make([]byte, 16))
				return err
			},
			wantMessages: []string{"readStart", "readDone"},
		},

		{
			name: "Write",
			setup: func(conn *netstub.FuncConn) {
				conn.WriteFunc = func(b []byte) (int, error) { return 0, wantErr }
			},
			run: func(conn net.Conn) error {
				_, err := conn.Write([]byte("hello"))
				return err
			},
			wantMessages: []string{"writeStart", "writeDone"},
		},

		{
			name: "SetDeadline",
			setup: func(conn *netstub.FuncConn) {
				conn.SetDeadlineFunc = func(time.Time) error { return wantErr }
			},
			run:          func(conn net.Conn) error { return conn.SetDeadline(deadline) },
			wantMessages: []string{"setDeadline"},
		},

		{
			name: "SetReadDeadline",
			setup: func(conn *netstub.FuncConn) {
				conn.SetReadDeadFunc = func(time.Time) error { return wantErr }
			},
			run:          func(conn net.Conn) error { return conn.SetReadDeadline(deadline) },
			wantMessages: []string{"setReadDeadline"},
		},

		{
			name: "SetWriteDeadline",
			setup: func(conn *netstub.FuncConn) {
				conn.SetWriteDeaFunc = func(time.Time) error { return wantErr }
			},
			run:          func(conn net.Conn) error { return conn.SetWriteDeadline(deadline) },
			wantMessages: []string{"setWriteDeadline"},
		},

		{
			name: "Close",
			setup: func(conn *netstub.FuncConn) {
				conn.CloseFunc = func() error { return wantErr }
			},
			run:          func(conn net.Conn) error { return conn.Close() },
			wantMessages: []string{"closeStart", "closeDone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, sink := newCapturingLogger()
			mockConn := newMinimalConn()
			tt.setup(mockConn)

			observed, err := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)
			require.NoError(t, err)

			require.ErrorIs(t, tt.run(observed), wantErr)
			assert.Equal(t, tt.wantMessages, sink.Messages())
		})
	}
}

// Read and Write return the counts of the wrapped conn.
func TestObservedConnReadWrite(t *testing.T) {
	var written []byte
	mockConn := newMinimalConn()
	mockConn.ReadFunc = func(b []byte) (int, error) {
		return copy(b, "ping"), nil
	}
	mockConn.WriteFunc = func(b []byte) (int, error) {
		written = append(written, b...)
		return len(b), nil
	}
	observed := observeConn(mockConn, DefaultErrClassifier, DefaultSLogger(), time.Now)

	buf := make([]byte, 1024)
	count, err := observed.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:count]))

	count, err = observed.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, "pong", string(written))
}

// The second Close returns net.ErrClosed without closing again.
func TestObservedConnCloseOnce(t *testing.T) {
	closeCount := 0
	mockConn := newMinimalConn()
	mockConn.CloseFunc = func() error {
		closeCount++
		return nil
	}
	observed := observeConn(mockConn, DefaultErrClassifier, DefaultSLogger(), time.Now)

	require.NoError(t, observed.Close())
	require.ErrorIs(t, observed.Close(), net.ErrClosed)
	assert.Equal(t, 1, closeCount)
}

// LocalAddr and RemoteAddr delegate to the wrapped conn.
func TestObservedConnAddrs(t *testing.T) {
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
	remote := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	mockConn := newMinimalConn()
	mockConn.LocalAddrFunc = func() net.Addr { return local }
	mockConn.RemoteAddrFunc = func() net.Addr { return remote }

	observed := observeConn(mockConn, DefaultErrClassifier, DefaultSLogger(), time.Now)

	assert.Equal(t, local, observed.LocalAddr())
	assert.Equal(t, remote, observed.RemoteAddr())
}
