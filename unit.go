// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

// Unit is the empty input of a [Func] that needs no argument.
type Unit struct{}
