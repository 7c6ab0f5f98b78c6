package rpc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/daorpc/rpcerr"
)

// fakeBackend is an in-memory rpc.Server used to test Dispatcher in
// isolation from any real transport, mirroring the teacher's
// startTestRPCServer helper but without sockets.
type fakeBackend struct {
	incoming chan Request
	replies  chan fakeReply
	closed   chan struct{}
}

type fakeReply struct {
	replyTo string
	value   any
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		incoming: make(chan Request, 8),
		replies:  make(chan fakeReply, 8),
		closed:   make(chan struct{}),
	}
}

func (b *fakeBackend) GetRequest() (Request, error) {
	select {
	case req := <-b.incoming:
		return req, nil
	case <-b.closed:
		return Request{}, fmt.Errorf("fakeBackend: closed")
	}
}

func (b *fakeBackend) SendReply(replyTo string, value any) error {
	b.replies <- fakeReply{replyTo: replyTo, value: value}
	return nil
}

func (b *fakeBackend) URL() string { return "fake://backend" }

func (b *fakeBackend) Close() error {
	close(b.closed)
	return nil
}

func TestDispatcher_DispatchesByMethodName(t *testing.T) {
	backend := newFakeBackend()
	d := NewDispatcher(backend)
	d.Register("double", func(args []any, kwargs map[string]any) (any, error) {
		n := args[0].(int)
		return n * 2, nil
	})

	go d.Serve()
	defer d.Stop()

	backend.incoming <- Request{Function: "double", Args: []any{21}, ReplyTo: "client-1"}

	select {
	case reply := <-backend.replies:
		assert.Equal(t, "client-1", reply.replyTo)
		assert.Equal(t, 42, reply.value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	backend := newFakeBackend()
	d := NewDispatcher(backend)

	go d.Serve()
	defer d.Stop()

	backend.incoming <- Request{Function: "missing", ReplyTo: "client-1"}

	select {
	case reply := <-backend.replies:
		rpcErr, ok := reply.value.(*rpcerr.Error)
		require.True(t, ok, "expected *rpcerr.Error, got %T", reply.value)
		assert.Equal(t, rpcerr.NotFound, rpcErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestDispatcher_HandlerPanicRecovered(t *testing.T) {
	backend := newFakeBackend()
	d := NewDispatcher(backend)
	d.Register("explode", func(args []any, kwargs map[string]any) (any, error) {
		panic("kaboom")
	})

	go d.Serve()
	defer d.Stop()

	backend.incoming <- Request{Function: "explode", ReplyTo: "client-1"}

	select {
	case reply := <-backend.replies:
		rpcErr, ok := reply.value.(*rpcerr.Error)
		require.True(t, ok)
		assert.Equal(t, rpcerr.Generic, rpcErr.Kind)
		assert.Contains(t, rpcErr.Message, "kaboom")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestDispatcher_NoReplyToSkipsSend(t *testing.T) {
	backend := newFakeBackend()
	d := NewDispatcher(backend)
	d.Register("fireAndForget", func(args []any, kwargs map[string]any) (any, error) {
		return "ignored", nil
	})

	go d.Serve()
	defer d.Stop()

	backend.incoming <- Request{Function: "fireAndForget"}

	select {
	case reply := <-backend.replies:
		t.Fatalf("unexpected reply sent: %+v", reply)
	case <-time.After(100 * time.Millisecond):
		// no reply expected
	}
}

func TestDispatcher_StopWaitsForInFlight(t *testing.T) {
	backend := newFakeBackend()
	d := NewDispatcher(backend)

	started := make(chan struct{})
	finish := make(chan struct{})
	d.Register("slow", func(args []any, kwargs map[string]any) (any, error) {
		close(started)
		<-finish
		return "done", nil
	})

	go d.Serve()

	backend.incoming <- Request{Function: "slow", ReplyTo: "client-1"}
	<-started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	<-stopped
}
