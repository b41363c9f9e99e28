package metastore

import (
	"context"
	"sync"

	"github.com/dmc-network/dsg-miner/types"
)

// Locker is a per-id named mutex ("miner_contract_<id>" in spec.md §4.2),
// acquired with a context-aware Lock so a cancelled caller doesn't block
// forever. This stays on the standard library rather than a third-party
// package: no dependency in the example pack offers an async-aware named
// mutex primitive, and a map from name to a wait channel, guarded by one
// sync.Mutex and closed on unlock, is all the primitive needs (see
// DESIGN.md).
type Locker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocker creates an empty named-lock coordinator.
func NewLocker() *Locker {
	return &Locker{locks: map[string]chan struct{}{}}
}

// Lock acquires the named lock, blocking until it is free or ctx is
// cancelled. The returned unlock function must be called exactly once.
func (l *Locker) Lock(ctx context.Context, name string) (unlock func(), err error) {
	for {
		l.mu.Lock()
		ch, held := l.locks[name]
		if !held {
			ch = make(chan struct{})
			l.locks[name] = ch
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.locks, name)
				l.mu.Unlock()
				close(ch)
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
			// retry acquisition
		case <-ctx.Done():
			return nil, types.NewError(types.Fatal, ctx.Err())
		}
	}
}

// ContractLockName builds the "miner_contract_<id>" lock name for a
// contract id.
func ContractLockName(id types.ContractID) string {
	return "miner_contract_" + id.String()
}
