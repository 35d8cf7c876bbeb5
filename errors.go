// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import "errors"

// ErrBusy indicates that [*Interface.Transmit] could not accept a frame
// because the rings are saturated. The caller keeps ownership of the frame
// and should retry once [*Interface.Admitting] reports true again.
var ErrBusy = errors.New("virteth: transmit queue busy")

// ErrNotRunning indicates that the [*Interface] has not been started
// or has been stopped. Hitting this error is a caller bug.
var ErrNotRunning = errors.New("virteth: interface not running")
