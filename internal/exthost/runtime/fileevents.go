package runtime

import (
	"context"
	"time"

	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/participant"
)

// fileSystemEvents serves protocol.ExtHostFileSystemEvent.
type fileSystemEvents struct{ r *Runtime }

var _ protocol.ExtHostFileSystemEvent = (*fileSystemEvents)(nil)

func (s *fileSystemEvents) OnWillRunFileOperation(ctx context.Context, params protocol.FileOperationParams) (*participant.Result, error) {
	ctx, release := s.r.track(ctx, params.RequestID)
	defer release()

	timeout := time.Duration(params.TimeoutMs) * time.Millisecond
	return s.r.participants.FireWillEvent(ctx, params.Operation, params.Files, timeout), nil
}

func (s *fileSystemEvents) CancelFileOperation(_ context.Context, params protocol.CancelParams) error {
	s.r.cancel(params.RequestID)
	return nil
}

func (s *fileSystemEvents) OnDidRunFileOperation(_ context.Context, params protocol.DidFileOperationParams) error {
	s.r.participants.FireDidEvent(params.Operation, params.Files)
	return nil
}

// track makes the participation of id cancellable. A cancellation that
// arrived before the request is applied immediately.
func (r *Runtime) track(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if id == "" {
		return ctx, cancel
	}

	r.pendingMu.Lock()
	if r.cancelled[id] {
		delete(r.cancelled, id)
		cancel()
	} else {
		r.pending[id] = cancel
	}
	r.pendingMu.Unlock()

	return ctx, func() {
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
		cancel()
	}
}

func (r *Runtime) cancel(id string) {
	if id == "" {
		return
	}
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if cancel, ok := r.pending[id]; ok {
		cancel()
		return
	}
	r.cancelled[id] = true
}
