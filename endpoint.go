// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
)

// HostPort is a host and port pair exactly as typed by a user.
type HostPort struct {
	Host string
	Port string
}

// ResolveEndpoint validates host and port and returns the corresponding [netip.AddrPort].
//
// The host must consist of exactly four dot-separated decimal octets in [0, 255]; any
// other shape fails with an [InvalidAddress] error naming the host. The port must be a
// decimal integer in [0, 65535]; otherwise the result is an [InvalidPort] error naming
// the port. Octets and port may carry a single leading plus sign. The host is
// validated first.
func ResolveEndpoint(host, port string) (netip.AddrPort, error) {
	segments := strings.Split(host, ".")
	if len(segments) != 4 {
		return netip.AddrPort{}, newInputError(InvalidAddress, host)
	}
	var octets [4]byte
	for idx, segment := range segments {
		value, err := parseDecimal(segment, 8)
		if err != nil {
			return netip.AddrPort{}, newInputError(InvalidAddress, host)
		}
		octets[idx] = byte(value)
	}
	value, err := parseDecimal(port, 16)
	if err != nil {
		return netip.AddrPort{}, newInputError(InvalidPort, port)
	}
	return netip.AddrPortFrom(netip.AddrFrom4(octets), uint16(value)), nil
}

// parseDecimal parses an unsigned decimal number of the given bit size,
// allowing one leading plus sign.
func parseDecimal(value string, bitSize int) (uint64, error) {
	if len(value) > 1 && value[0] == '+' {
		value = value[1:]
	}
	return strconv.ParseUint(value, 10, bitSize)
}

// NewResolveFunc returns a new [*ResolveFunc].
func NewResolveFunc() *ResolveFunc {
	return &ResolveFunc{}
}

// ResolveFunc is the [Func] form of [ResolveEndpoint].
type ResolveFunc struct{}

var _ Func[HostPort, netip.AddrPort] = &ResolveFunc{}

// Call invokes [ResolveEndpoint] with the given [HostPort].
func (op *ResolveFunc) Call(ctx context.Context, input HostPort) (netip.AddrPort, error) {
	return ResolveEndpoint(input.Host, input.Port)
}

// NewEndpointFunc returns a [Func] that always returns the given [netip.AddrPort].
//
// Use it to inject an already validated endpoint into a pipeline.
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
