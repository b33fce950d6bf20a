// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import "sync"

// closeSignal is a cooperative stop request shared by every handle of the
// same listener or UDP socket. Setting it never interrupts a syscall: the
// poll loops observe it once per iteration.
type closeSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newCloseSignal() *closeSignal {
	return &closeSignal{ch: make(chan struct{})}
}

// Close sets the signal. It is safe to call more than once.
func (s *closeSignal) Close() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Closed reports whether the signal is set.
func (s *closeSignal) Closed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal is set.
func (s *closeSignal) Done() <-chan struct{} {
	return s.ch
}
