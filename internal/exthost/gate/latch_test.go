package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch_AdvanceInOrder(t *testing.T) {
	l := New()
	assert.Equal(t, NotReady, l.State())
	require.NoError(t, l.Await(context.Background(), NotReady))

	assert.ErrorIs(t, l.Advance(DataSynchronized), ErrOutOfOrder)
	require.NoError(t, l.Advance(ChannelReady))
	assert.ErrorIs(t, l.Advance(ChannelReady), ErrOutOfOrder)
	require.NoError(t, l.Advance(DataSynchronized))
	assert.ErrorIs(t, l.Advance(DataSynchronized+1), ErrOutOfOrder)

	assert.Equal(t, DataSynchronized, l.State())
	assert.Equal(t, "data-synchronized", l.State().String())
}

func TestLatch_AwaitBlocksUntilReached(t *testing.T) {
	l := New()
	got := make(chan State, 2)

	go func() {
		if l.Await(context.Background(), DataSynchronized) == nil {
			got <- DataSynchronized
		}
	}()
	go func() {
		if l.Await(context.Background(), ChannelReady) == nil {
			got <- ChannelReady
		}
	}()

	select {
	case <-got:
		t.Fatal("await returned before the state was reached")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, l.Advance(ChannelReady))
	assert.Equal(t, ChannelReady, <-got)

	require.NoError(t, l.Advance(DataSynchronized))
	assert.Equal(t, DataSynchronized, <-got)
}

func TestLatch_AwaitContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Await(ctx, ChannelReady), context.DeadlineExceeded)
}

func TestLatch_Close(t *testing.T) {
	l := New()
	require.NoError(t, l.Advance(ChannelReady))

	errc := make(chan error, 1)
	go func() { errc <- l.Await(context.Background(), DataSynchronized) }()

	cause := errors.New("process exited")
	l.Close(cause)
	l.Close(nil)

	err := <-errc
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, l.Await(context.Background(), ChannelReady), "reached states stay reached")
	assert.ErrorIs(t, l.Advance(DataSynchronized), ErrClosed)
}
