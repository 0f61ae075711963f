package exthost

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/exthost/runtime"
	"github.com/dshills/exthost/internal/logging"
)

// DefaultTerminateTimeout is how long a host gets to exit on its own
// before it is killed.
const DefaultTerminateTimeout = 3 * time.Second

// Host is a running extension host reachable over Conn.
type Host interface {
	Conn() io.ReadWriteCloser
	// Terminate closes the connection and stops the host.
	Terminate(ctx context.Context) error
}

// LaunchFunc starts a host.
type LaunchFunc func(ctx context.Context) (Host, error)

// Strategy holds what differs between host kinds.
type Strategy interface {
	Kind() extension.HostKind
	// Launch starts a fresh host.
	Launch(ctx context.Context) (Host, error)
	// Entry returns the entry point of rec in this host, "" when none.
	Entry(rec *extension.Record) string
	// Identifier returns the key the host activates rec by.
	Identifier(rec *extension.Record) string
	// StaticServicePath is served to hosts that load static resources.
	StaticServicePath() string
}

// ProcessStrategy runs extensions in a child process speaking the
// protocol on its standard streams.
type ProcessStrategy struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	Logger  *logging.Logger

	// LaunchFunc replaces process creation when set.
	LaunchFunc LaunchFunc
}

var _ Strategy = (*ProcessStrategy)(nil)

// Kind returns extension.HostProcess.
func (p *ProcessStrategy) Kind() extension.HostKind { return extension.HostProcess }

// Entry returns the process entry point.
func (p *ProcessStrategy) Entry(rec *extension.Record) string {
	return rec.EntryPath(extension.HostProcess)
}

// Identifier returns the extension location.
func (p *ProcessStrategy) Identifier(rec *extension.Record) string {
	return rec.Path
}

// StaticServicePath is empty for process hosts.
func (p *ProcessStrategy) StaticServicePath() string { return "" }

// Launch starts the child process.
func (p *ProcessStrategy) Launch(ctx context.Context) (Host, error) {
	if p.LaunchFunc != nil {
		return p.LaunchFunc(ctx)
	}
	if p.Command == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.Command(p.Command, p.Args...)
	cmd.Env = os.Environ()
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = p.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", p.Command, err)
	}

	h := &processHost{
		cmd:    cmd,
		conn:   &stdioConn{ReadCloser: stdout, WriteCloser: stdin},
		exited: make(chan struct{}),
	}
	go forwardStderr(stderr, logging.OrNop(p.Logger).WithField("pid", cmd.Process.Pid))
	go func() {
		h.err = cmd.Wait()
		close(h.exited)
	}()
	return h, nil
}

// forwardStderr logs the child's diagnostics line by line.
func forwardStderr(r io.Reader, logger *logging.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Info("host: %s", sc.Text())
	}
}

type processHost struct {
	cmd    *exec.Cmd
	conn   *stdioConn
	exited chan struct{}
	err    error
}

func (h *processHost) Conn() io.ReadWriteCloser { return h.conn }

// Terminate closes stdin, which makes the host shut down, and kills it
// if it has not exited in time.
func (h *processHost) Terminate(ctx context.Context) error {
	_ = h.conn.Close()

	timer := time.NewTimer(DefaultTerminateTimeout)
	defer timer.Stop()

	select {
	case <-h.exited:
	case <-timer.C:
		_ = h.cmd.Process.Kill()
		<-h.exited
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-h.exited
	}

	var exitErr *exec.ExitError
	if h.err != nil && !errors.As(h.err, &exitErr) {
		return h.err
	}
	return nil
}

// stdioConn joins the child's stdout and stdin.
type stdioConn struct {
	io.ReadCloser
	io.WriteCloser
}

func (c *stdioConn) Close() error {
	werr := c.WriteCloser.Close()
	rerr := c.ReadCloser.Close()
	return errors.Join(werr, rerr)
}

// WorkerStrategy runs extensions in a restricted runtime inside this
// process, connected over an in-memory pipe.
type WorkerStrategy struct {
	// NewRuntime builds the runtime of each worker. It must return a
	// runtime of kind extension.HostWorker.
	NewRuntime func() *runtime.Runtime
	StaticPath string
}

var _ Strategy = (*WorkerStrategy)(nil)

// Kind returns extension.HostWorker.
func (w *WorkerStrategy) Kind() extension.HostKind { return extension.HostWorker }

// Entry returns the worker entry point.
func (w *WorkerStrategy) Entry(rec *extension.Record) string {
	return rec.EntryPath(extension.HostWorker)
}

// Identifier returns the worker script path.
func (w *WorkerStrategy) Identifier(rec *extension.Record) string {
	return rec.EntryPath(extension.HostWorker)
}

// StaticServicePath returns the configured static resource path.
func (w *WorkerStrategy) StaticServicePath() string { return w.StaticPath }

// Launch starts a worker runtime.
func (w *WorkerStrategy) Launch(ctx context.Context) (Host, error) {
	newRuntime := w.NewRuntime
	if newRuntime == nil {
		newRuntime = func() *runtime.Runtime { return runtime.New(extension.HostWorker) }
	}
	return InProcessLauncher(newRuntime)(ctx)
}

// InProcessLauncher returns a LaunchFunc serving a fresh runtime over
// net.Pipe on its own goroutine.
func InProcessLauncher(newRuntime func() *runtime.Runtime) LaunchFunc {
	return func(context.Context) (Host, error) {
		local, remote := net.Pipe()
		ctx, cancel := context.WithCancel(context.Background())
		h := &pipeHost{conn: local, cancel: cancel, done: make(chan struct{})}
		rt := newRuntime()
		go func() {
			defer close(h.done)
			h.err = rt.Serve(ctx, remote)
		}()
		return h, nil
	}
}

type pipeHost struct {
	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	once sync.Once
}

func (h *pipeHost) Conn() io.ReadWriteCloser { return h.conn }

func (h *pipeHost) Terminate(ctx context.Context) error {
	h.once.Do(func() {
		h.cancel()
		_ = h.conn.Close()
	})
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
