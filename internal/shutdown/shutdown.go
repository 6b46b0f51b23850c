// Package shutdown provides a single broadcast-once cancellation signal
// shared by every connection handler and evictor loop in the server, so
// that one shutdown event reaches all of them without each holding a
// reference to the others.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// Notifier fans a single shutdown event out to any number of subscribers.
// It is safe for concurrent use.
type Notifier struct {
	subs sync.Map // map[chan struct{}]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Notifier with no subscribers.
func New() *Notifier {
	return &Notifier{}
}

// Subscribe returns a channel that is closed when Shutdown is called. If the
// Notifier has already shut down, the returned channel is already closed.
func (n *Notifier) Subscribe() <-chan struct{} {
	ch := make(chan struct{})
	if n.closed.Load() {
		close(ch)
		return ch
	}
	n.subs.Store(ch, struct{}{})
	return ch
}

// Unsubscribe releases a subscription obtained from Subscribe without
// triggering shutdown for anyone else. It does not close ch; the caller that
// is done waiting on it should simply stop selecting on it.
func (n *Notifier) Unsubscribe(ch <-chan struct{}) {
	n.subs.Delete(ch)
}

// ShuttingDown reports whether Shutdown has been called.
func (n *Notifier) ShuttingDown() bool {
	return n.closed.Load()
}

// Shutdown closes every outstanding subscription channel exactly once. It is
// safe to call Shutdown multiple times or concurrently; only the first call
// has effect.
func (n *Notifier) Shutdown() {
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		n.subs.Range(func(key, _ any) bool {
			n.subs.Delete(key)
			close(key.(chan struct{}))
			return true
		})
	})
}
