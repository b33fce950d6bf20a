package sockpoll

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a debugging session or a single
// peer lifecycle. Attach it to a logger with [*slog.Logger.With] so every
// event of that lifecycle shares the same spanID.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
