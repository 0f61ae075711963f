// Package rpc implements the bidirectional remote-proxy protocol spoken
// between the main process and an extension host.
//
// Both ends hold a Protocol. Each side registers local services with Set
// and reaches the other side's services through GetProxy. Messages are
// JSON-RPC 2.0 with Content-Length framing; a service method travels as
// "<identifier>/$<method>".
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.lsp.dev/jsonrpc2"

	"github.com/dshills/exthost/internal/lifecycle"
	"github.com/dshills/exthost/internal/logging"
)

// ErrClosed is returned by calls on a closed protocol.
var ErrClosed = errors.New("rpc: protocol closed")

// Identifier names a service. It must be unique per protocol.
type Identifier string

// Method serves one remote method. params holds the raw JSON parameters.
type Method func(ctx context.Context, params json.RawMessage) (any, error)

// Methods maps method names (without the "$" prefix) to handlers.
type Methods map[string]Method

const methodPrefix = "$"

// WireMethod returns the on-the-wire name of method on service id.
func WireMethod(id Identifier, method string) string {
	return string(id) + "/" + methodPrefix + method
}

// splitWireMethod is the inverse of WireMethod.
func splitWireMethod(wire string) (Identifier, string, bool) {
	i := strings.LastIndex(wire, "/"+methodPrefix)
	if i <= 0 {
		return "", "", false
	}
	return Identifier(wire[:i]), wire[i+len(methodPrefix)+1:], true
}

// Handle adapts a typed function to a Method.
func Handle[P, R any](fn func(ctx context.Context, params P) (R, error)) Method {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("invalid params: %v", err))
			}
		}
		return fn(ctx, p)
	}
}

// Empty is the parameter or result type of methods that carry none.
type Empty struct{}

// Protocol multiplexes service calls over one connection.
type Protocol struct {
	conn   jsonrpc2.Conn
	logger *logging.Logger

	// ctx outlives individual requests; replies are written with it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	services map[Identifier]*registration
	closed   bool
}

type registration struct {
	methods Methods
}

// NewProtocol starts serving rwc. The protocol owns rwc and closes it on Close.
func NewProtocol(rwc io.ReadWriteCloser, logger *logging.Logger) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		conn:     jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		logger:   logging.OrNop(logger).WithComponent("rpc"),
		ctx:      ctx,
		cancel:   cancel,
		services: make(map[Identifier]*registration),
	}
	p.conn.Go(ctx, p.handle)
	return p
}

// Set registers a local implementation of id. Registering the same
// identifier again replaces the previous methods. Disposing the returned
// value unregisters them.
func (p *Protocol) Set(id Identifier, methods Methods) lifecycle.Disposable {
	reg := &registration{methods: methods}
	p.mu.Lock()
	p.services[id] = reg
	p.mu.Unlock()

	return lifecycle.Once(lifecycle.DisposeFunc(func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		// A later Set for the same identifier stays registered.
		if p.services[id] == reg {
			delete(p.services, id)
		}
		return nil
	}))
}

// GetProxy returns a handle for calling the remote service id.
func (p *Protocol) GetProxy(id Identifier) *Proxy {
	return &Proxy{protocol: p, id: id}
}

// Done returns a channel closed when the connection stops.
func (p *Protocol) Done() <-chan struct{} {
	return p.conn.Done()
}

// Err returns the reason the connection stopped, if any.
func (p *Protocol) Err() error {
	return p.conn.Err()
}

// Close stops the connection. Pending calls fail.
func (p *Protocol) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.conn.Close()
	p.cancel()
	return err
}

func (p *Protocol) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Protocol) lookup(wire string) (Method, bool) {
	id, name, ok := splitWireMethod(wire)
	if !ok {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	reg, ok := p.services[id]
	if !ok {
		return nil, false
	}
	m, ok := reg.methods[name]
	return m, ok
}

// handle dispatches each request on its own goroutine so a handler may
// call back into the other side without blocking the read loop.
func (p *Protocol) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	m, ok := p.lookup(req.Method())
	if !ok {
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}

	params := append(json.RawMessage(nil), req.Params()...)
	method := req.Method()
	go func() {
		result, err := p.invoke(m, method, params)
		if rerr := reply(p.ctx, result, err); rerr != nil && !p.isClosed() {
			p.logger.Warn("reply to %s failed: %v", method, rerr)
		}
	}()
	return nil
}

func (p *Protocol) invoke(m Method, method string, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler %s panicked: %v", method, r)
			err = jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("%s: panic: %v", method, r))
		}
	}()
	return m(p.ctx, params)
}

// Proxy calls methods of one remote service.
type Proxy struct {
	protocol *Protocol
	id       Identifier
}

// Identifier returns the service identifier.
func (x *Proxy) Identifier() Identifier {
	return x.id
}

// Call invokes method and decodes the response into result, which may be
// nil when the response is ignored. Remote failures are returned as errors.
func (x *Proxy) Call(ctx context.Context, method string, params, result any) error {
	if x.protocol.isClosed() {
		return ErrClosed
	}
	if result == nil {
		result = &json.RawMessage{}
	}
	wire := WireMethod(x.id, method)

	// Stop waiting once the connection is gone.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-x.protocol.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := x.protocol.conn.Call(ctx, wire, params, result); err != nil {
		select {
		case <-x.protocol.Done():
			return fmt.Errorf("%s: %w", wire, ErrClosed)
		default:
		}
		return fmt.Errorf("%s: %w", wire, err)
	}
	return nil
}

// Notify sends method without waiting for a response.
func (x *Proxy) Notify(ctx context.Context, method string, params any) error {
	if x.protocol.isClosed() {
		return ErrClosed
	}
	wire := WireMethod(x.id, method)
	if err := x.protocol.conn.Notify(ctx, wire, params); err != nil {
		return fmt.Errorf("%s: %w", wire, err)
	}
	return nil
}
