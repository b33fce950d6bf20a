// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Mode selects how user input becomes a payload.
type Mode int

const (
	// Text sends the input as UTF-8.
	Text Mode = iota

	// Hex decodes the input as hexadecimal bytes, ignoring whitespace.
	Hex
)

// String implements [fmt.Stringer].
func (m Mode) String() string {
	switch m {
	case Text:
		return "text"
	case Hex:
		return "hex"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// EncodePayload converts input into the bytes to send.
func EncodePayload(mode Mode, input string) ([]byte, error) {
	switch mode {
	case Text:
		return []byte(input), nil
	case Hex:
		compact := strings.Join(strings.Fields(input), "")
		payload, err := hex.DecodeString(compact)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown payload mode: %s", mode)
	}
}

// FormatPayload renders data for an output panel. Valid UTF-8 is quoted,
// anything else is shown as hex.
func FormatPayload(data []byte) string {
	if utf8.Valid(data) {
		return strconv.Quote(string(data))
	}
	return "hex:" + hex.EncodeToString(data)
}
