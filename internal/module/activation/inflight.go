package activation

import (
	"context"
	"sync"
)

// inflight tracks the backend calls running for each flow so they can be
// aborted when the flow's owner goes away.
type inflight struct {
	mu    sync.Mutex
	next  uint64
	calls map[string]map[uint64]context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{calls: make(map[string]map[uint64]context.CancelFunc)}
}

// Begin derives a cancellable context for a call on flowID. done must be
// called when the call returns.
func (r *inflight) Begin(parent context.Context, flowID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.next++
	id := r.next
	if r.calls[flowID] == nil {
		r.calls[flowID] = make(map[uint64]context.CancelFunc)
	}
	r.calls[flowID][id] = cancel
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		delete(r.calls[flowID], id)
		if len(r.calls[flowID]) == 0 {
			delete(r.calls, flowID)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts every call running for flowID and returns how many there were.
func (r *inflight) Cancel(flowID string) int {
	r.mu.Lock()
	calls := r.calls[flowID]
	delete(r.calls, flowID)
	r.mu.Unlock()

	for _, cancel := range calls {
		cancel()
	}
	return len(calls)
}
