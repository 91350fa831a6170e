package orchestrator

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// accountLocks serializes mutating flows per account. Waiting for the lock
// honors ctx.
type accountLocks struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

func (l *accountLocks) slot(a common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[common.Address]chan struct{})
	}
	ch, ok := l.slots[a]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[a] = ch
	}
	return ch
}

func (l *accountLocks) acquire(ctx context.Context, a common.Address) (func(), error) {
	ch := l.slot(a)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// busy reports whether a flow currently holds a's lock.
func (l *accountLocks) busy(a common.Address) bool {
	return len(l.slot(a)) > 0
}
