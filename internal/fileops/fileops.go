// Package fileops performs workspace file operations on behalf of the
// main process, giving every running extension host the chance to
// contribute edits before the operation and telling them afterwards.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/exthost/internal/edit"
	"github.com/dshills/exthost/internal/exthost/protocol"
	"github.com/dshills/exthost/internal/logging"
	"github.com/dshills/exthost/internal/participant"
)

// DefaultParticipantTimeout is the budget after which a participant is
// reported as slow.
const DefaultParticipantTimeout = 5 * time.Second

// cancelTimeout bounds the cancellation notice sent to participants.
const cancelTimeout = time.Second

var (
	// ErrNoFiles is returned for an operation without files.
	ErrNoFiles = errors.New("no files given")

	// ErrNoSource is returned for a rename without a source.
	ErrNoSource = errors.New("rename requires a source")
)

// Participants returns the file participation services of the running
// hosts.
type Participants func() []protocol.ExtHostFileSystemEvent

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the slow participant budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Outcome reports what an operation did.
type Outcome struct {
	// Participation is nil when no extension contributed an edit.
	Participation *participant.Result
	// Edited lists the files the merged edit was applied to.
	Edited []string
}

// Service runs file operations.
type Service struct {
	participants Participants
	timeout      time.Duration
	logger       *logging.Logger
}

// NewService creates a service consulting participants.
func NewService(participants Participants, opts ...Option) *Service {
	s := &Service{participants: participants, timeout: DefaultParticipantTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("fileops")
	return s
}

// Create creates the target files.
func (s *Service) Create(ctx context.Context, files []participant.FilePair) (*Outcome, error) {
	return s.run(ctx, participant.OperationCreate, files)
}

// Delete removes the target files.
func (s *Service) Delete(ctx context.Context, files []participant.FilePair) (*Outcome, error) {
	return s.run(ctx, participant.OperationDelete, files)
}

// Rename moves every source to its target.
func (s *Service) Rename(ctx context.Context, files []participant.FilePair) (*Outcome, error) {
	return s.run(ctx, participant.OperationRename, files)
}

func (s *Service) run(ctx context.Context, op participant.Operation, files []participant.FilePair) (*Outcome, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if op == participant.OperationRename {
		for _, f := range files {
			if f.Source == "" {
				return nil, fmt.Errorf("%w: %s", ErrNoSource, f.Target)
			}
		}
	}

	var hosts []protocol.ExtHostFileSystemEvent
	if s.participants != nil {
		hosts = s.participants()
	}

	result := s.participate(ctx, hosts, op, files)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s cancelled: %w", op, err)
	}

	if err := perform(op, files); err != nil {
		return nil, err
	}

	out := &Outcome{Participation: result}
	if result != nil {
		out.Edited = s.applyEdit(result.Edit)
	}

	s.fireDid(hosts, op, files)
	return out, nil
}

// participate asks every host concurrently and merges the answers in
// host order. Failing hosts are logged and skipped.
func (s *Service) participate(ctx context.Context, hosts []protocol.ExtHostFileSystemEvent, op participant.Operation, files []participant.FilePair) *participant.Result {
	if len(hosts) == 0 {
		return nil
	}

	params := protocol.FileOperationParams{
		RequestID: uuid.NewString(),
		Operation: op,
		Files:     files,
		TimeoutMs: s.timeout.Milliseconds(),
	}

	settled := make(chan struct{})
	defer close(settled)
	go func() {
		select {
		case <-ctx.Done():
			s.cancel(hosts, params.RequestID)
		case <-settled:
		}
	}()

	results := make([]*participant.Result, len(hosts))
	var g errgroup.Group
	for i, h := range hosts {
		g.Go(func() error {
			res, err := h.OnWillRunFileOperation(context.WithoutCancel(ctx), params)
			if err != nil {
				s.logger.Warn("%s participant %d failed: %v", op, i, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return participant.Merge(results...)
}

func (s *Service) cancel(hosts []protocol.ExtHostFileSystemEvent, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	for _, h := range hosts {
		if err := h.CancelFileOperation(ctx, protocol.CancelParams{RequestID: requestID}); err != nil {
			s.logger.Debug("cancel %s: %v", requestID, err)
		}
	}
}

func (s *Service) fireDid(hosts []protocol.ExtHostFileSystemEvent, op participant.Operation, files []participant.FilePair) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	params := protocol.DidFileOperationParams{Operation: op, Files: files}
	for _, h := range hosts {
		if err := h.OnDidRunFileOperation(ctx, params); err != nil {
			s.logger.Warn("did-%s notification failed: %v", op, err)
		}
	}
}

// applyEdit writes w to disk. Resources that cannot be read or edited are
// logged and skipped.
func (s *Service) applyEdit(w *edit.WorkspaceEdit) []string {
	var edited []string
	for _, resource := range w.Resources() {
		path := PathOf(resource)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skip edit of %s: %v", resource, err)
			continue
		}
		text, err := edit.Apply(string(data), w.EditsFor(resource))
		if err != nil {
			s.logger.Warn("skip edit of %s: %v", resource, err)
			continue
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			s.logger.Warn("write %s: %v", resource, err)
			continue
		}
		edited = append(edited, path)
	}
	return edited
}

func perform(op participant.Operation, files []participant.FilePair) error {
	for _, f := range files {
		target := PathOf(f.Target)
		var err error
		switch op {
		case participant.OperationCreate:
			err = createFile(target)
		case participant.OperationDelete:
			err = os.RemoveAll(target)
		case participant.OperationRename:
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
				err = os.Rename(PathOf(f.Source), target)
			}
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, f.Target, err)
		}
	}
	return nil
}

func createFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

const fileScheme = "file://"

// PathOf returns the file system path of a resource, which may be a
// file URI or a plain path.
func PathOf(resource string) string {
	return filepath.FromSlash(strings.TrimPrefix(resource, fileScheme))
}

// URIOf returns the file URI of path.
func URIOf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fileScheme + filepath.ToSlash(path)
}
