package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetParams struct {
	Name string `json:"name"`
}

type greetResult struct {
	Greeting string `json:"greeting"`
}

func pipeProtocols(t *testing.T) (*Protocol, *Protocol) {
	t.Helper()
	a, b := net.Pipe()
	left := NewProtocol(a, nil)
	right := NewProtocol(b, nil)
	t.Cleanup(func() {
		_ = left.Close()
		_ = right.Close()
	})
	return left, right
}

func TestWireMethod(t *testing.T) {
	wire := WireMethod("ExtHostDebug", "createDebugSession")
	assert.Equal(t, "ExtHostDebug/$createDebugSession", wire)

	id, name, ok := splitWireMethod(wire)
	require.True(t, ok)
	assert.Equal(t, Identifier("ExtHostDebug"), id)
	assert.Equal(t, "createDebugSession", name)

	_, _, ok = splitWireMethod("initialize")
	assert.False(t, ok)
}

func TestProtocol_Call(t *testing.T) {
	left, right := pipeProtocols(t)

	right.Set("Greeter", Methods{
		"greet": Handle(func(_ context.Context, p greetParams) (greetResult, error) {
			return greetResult{Greeting: "hello " + p.Name}, nil
		}),
	})

	var res greetResult
	err := left.GetProxy("Greeter").Call(context.Background(), "greet", greetParams{Name: "ext"}, &res)
	require.NoError(t, err)
	assert.Equal(t, "hello ext", res.Greeting)
}

func TestProtocol_RemoteErrorPropagates(t *testing.T) {
	left, right := pipeProtocols(t)

	right.Set("Svc", Methods{
		"fail": Handle(func(context.Context, Empty) (Empty, error) {
			return Empty{}, errors.New("activation exploded")
		}),
		"panic": Handle(func(context.Context, Empty) (Empty, error) {
			panic("bad handler")
		}),
	})

	err := left.GetProxy("Svc").Call(context.Background(), "fail", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activation exploded")

	err = left.GetProxy("Svc").Call(context.Background(), "panic", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")

	err = left.GetProxy("Svc").Call(context.Background(), "missing", nil, nil)
	assert.Error(t, err)

	err = left.GetProxy("Other").Call(context.Background(), "fail", nil, nil)
	assert.Error(t, err)
}

func TestProtocol_NestedReverseCall(t *testing.T) {
	main, host := pipeProtocols(t)

	main.Set("MainThread", Methods{
		"lookup": Handle(func(_ context.Context, p greetParams) (greetResult, error) {
			return greetResult{Greeting: "found " + p.Name}, nil
		}),
	})
	host.Set("ExtHost", Methods{
		"activate": Handle(func(ctx context.Context, p greetParams) (greetResult, error) {
			var res greetResult
			err := host.GetProxy("MainThread").Call(ctx, "lookup", p, &res)
			return res, err
		}),
	})

	var res greetResult
	err := main.GetProxy("ExtHost").Call(context.Background(), "activate", greetParams{Name: "x"}, &res)
	require.NoError(t, err)
	assert.Equal(t, "found x", res.Greeting)
}

func TestProtocol_Notify(t *testing.T) {
	left, right := pipeProtocols(t)

	got := make(chan string, 1)
	right.Set("Events", Methods{
		"fired": Handle(func(_ context.Context, p greetParams) (Empty, error) {
			got <- p.Name
			return Empty{}, nil
		}),
	})

	require.NoError(t, left.GetProxy("Events").Notify(context.Background(), "fired", greetParams{Name: "rename"}))
	select {
	case name := <-got:
		assert.Equal(t, "rename", name)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestProtocol_SetDispose(t *testing.T) {
	left, right := pipeProtocols(t)

	methods := Methods{"ping": Handle(func(context.Context, Empty) (string, error) { return "one", nil })}
	first := right.Set("Svc", methods)
	replacement := right.Set("Svc", Methods{"ping": Handle(func(context.Context, Empty) (string, error) { return "two", nil })})

	require.NoError(t, first.Dispose())

	var out string
	require.NoError(t, left.GetProxy("Svc").Call(context.Background(), "ping", nil, &out))
	assert.Equal(t, "two", out)

	require.NoError(t, replacement.Dispose())
	assert.Error(t, left.GetProxy("Svc").Call(context.Background(), "ping", nil, &out))
}

func TestProtocol_CloseFailsCalls(t *testing.T) {
	left, right := pipeProtocols(t)

	block := make(chan struct{})
	right.Set("Slow", Methods{
		"wait": Handle(func(context.Context, Empty) (Empty, error) {
			<-block
			return Empty{}, nil
		}),
	})
	defer close(block)

	errc := make(chan error, 1)
	go func() { errc <- left.GetProxy("Slow").Call(context.Background(), "wait", nil, nil) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, right.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail after close")
	}

	assert.ErrorIs(t, right.GetProxy("Slow").Call(context.Background(), "wait", nil, nil), ErrClosed)
}
