// SPDX-License-Identifier: GPL-3.0-or-later

package virteth

import (
	"context"
	"runtime"

	"github.com/bassosimone/runtimex"
)

// Poller schedules [*Interface.Poll] in response to [*Interface.RxReady].
//
// Construct using [NewPoller].
type Poller struct {
	// budget is the maximum number of frames per poll.
	budget int

	// ix is the interface to poll.
	ix *Interface
}

// NewPoller creates a new [*Poller] using the given budget (see [DefaultBudget]).
//
// This function PANICs if budget is not positive.
func NewPoller(ix *Interface, budget int) *Poller {
	runtimex.Assert(budget > 0)
	return &Poller{budget: budget, ix: ix}
}

// Run polls until the context is done. It must not run concurrently with
// itself for the same interface.
//
// After each signal, Run polls repeatedly until a poll completes, yielding
// the processor between rounds that exhausted their budget.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ix.RxReady():
		}

		for {
			if _, complete := p.ix.Poll(p.budget); complete {
				break
			}
			if ctx.Err() != nil {
				return
			}
			runtime.Gosched()
		}
	}
}
