// Package gate provides the readiness latch a host service advances while
// its remote channel comes up.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is a readiness level. States are reached strictly in order.
type State int

const (
	// NotReady - nothing is established yet.
	NotReady State = iota

	// ChannelReady - the RPC channel exists and proxies may be used.
	ChannelReady

	// DataSynchronized - the remote side has received the extension catalog
	// and extensions may be activated.
	DataSynchronized
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case NotReady:
		return "not-ready"
	case ChannelReady:
		return "channel-ready"
	case DataSynchronized:
		return "data-synchronized"
	default:
		return "unknown"
	}
}

var (
	// ErrOutOfOrder is returned when a state is advanced to out of sequence.
	ErrOutOfOrder = errors.New("readiness state advanced out of order")

	// ErrClosed is returned when advancing a closed latch.
	ErrClosed = errors.New("readiness latch closed")

	// ErrSuperseded is returned to waiters when the latch was closed before
	// the awaited state was reached.
	ErrSuperseded = errors.New("readiness latch superseded")
)

// Latch is a one-way sequence NotReady -> ChannelReady -> DataSynchronized.
// The zero value is not usable; use New.
type Latch struct {
	mu       sync.Mutex
	state    State
	reached  [DataSynchronized + 1]chan struct{}
	closed   chan struct{}
	closeErr error
}

// New creates a latch in the NotReady state.
func New() *Latch {
	l := &Latch{closed: make(chan struct{})}
	for i := range l.reached {
		l.reached[i] = make(chan struct{})
	}
	close(l.reached[NotReady])
	return l
}

// State returns the current state.
func (l *Latch) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Advance moves the latch to the given state, which must be the next one.
func (l *Latch) Advance(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closeErr != nil {
		return ErrClosed
	}
	if to != l.state+1 || to > DataSynchronized {
		return fmt.Errorf("%w: %s -> %s", ErrOutOfOrder, l.state, to)
	}
	l.state = to
	close(l.reached[to])
	return nil
}

// Await blocks until the latch reaches state, ctx is done, or the latch
// is closed. A state reached before Close still returns nil.
func (l *Latch) Await(ctx context.Context, state State) error {
	if state < NotReady || state > DataSynchronized {
		return fmt.Errorf("%w: unknown state %d", ErrOutOfOrder, state)
	}
	reached := l.reached[state]

	select {
	case <-reached:
		return nil
	default:
	}

	select {
	case <-reached:
		return nil
	case <-l.closed:
		// Advance and Close are serialized, so a late reach is still visible.
		select {
		case <-reached:
			return nil
		default:
		}
		return l.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when state is reached.
func (l *Latch) Done(state State) <-chan struct{} {
	return l.reached[state]
}

// Close marks the latch as superseded. Pending waiters receive err, or
// ErrSuperseded when err is nil. Closing twice is a no-op.
func (l *Latch) Close(err error) {
	if err == nil {
		err = ErrSuperseded
	} else if !errors.Is(err, ErrSuperseded) {
		err = fmt.Errorf("%w: %w", ErrSuperseded, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closeErr != nil {
		return
	}
	l.closeErr = err
	close(l.closed)
}

func (l *Latch) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}
