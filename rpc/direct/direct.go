// Package direct implements the DIRECT RPC transport backend: brokerless
// PUSH/PULL sockets with a per-call ephemeral reply socket and a
// deferred-close pool for the transient sockets used to send replies.
package direct

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/phuhao00/daorpc/config"
	"github.com/phuhao00/daorpc/rpc"
	"github.com/phuhao00/daorpc/rpcerr"
)

// DriverName is the config value for rpc.driver selecting this backend.
const DriverName = "direct"

func init() {
	rpc.RegisterBackend(DriverName, newClient, newServer)
}

var (
	sharedContextOnce sync.Once
	sharedContext     *zmq.Context
	sharedContextErr  error
)

// zmqContext lazily creates the process-wide zmq.Context, returning any
// creation error to the caller instead of leaving a nil context behind for
// later socket calls to panic on.
func zmqContext() (*zmq.Context, error) {
	sharedContextOnce.Do(func() {
		sharedContext, sharedContextErr = zmq.NewContext()
	})
	return sharedContext, sharedContextErr
}

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Client is the DIRECT Client implementation (spec.md §4.3).
type Client struct {
	connectURL string
	timeout    time.Duration
	urlPattern string
	ip         string
	pool       *deferredPool
}

func newClient(opts rpc.ClientOptions) (rpc.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	pattern := opts.URLPattern
	if pattern == "" {
		pattern = "tcp://{ip}:{port}"
	}
	return &Client{
		connectURL: opts.ConnectURL,
		timeout:    timeout,
		urlPattern: pattern,
		ip:         opts.IP,
		pool:       newDeferredPool(config.Get().RPC.SendTimeout),
	}, nil
}

// Call acquires a push socket connected to the server and a pull socket
// bound to a random local port, sends the request with reply_to set to
// the pull socket's URL, and blocks for the reply within the timeout.
func (c *Client) Call(function string, args []any, kwargs map[string]any) (any, error) {
	zctx, err := zmqContext()
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to create zmq context: %v", err)
	}

	push, err := c.pool.acquire(zctx, kindPush)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to create push socket: %v", err)
	}
	defer c.pool.finish(push)

	if err := push.sock.Connect(c.connectURL); err != nil {
		return nil, rpcerr.New(rpcerr.NotFound, "failed to connect to %s: %v", c.connectURL, err)
	}

	pull, err := c.pool.acquire(zctx, kindPull)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to create pull socket: %v", err)
	}
	defer c.pool.finish(pull)

	bindPattern := c.urlPattern
	bindAddr := rpc.BuildURL(bindPattern, c.ip, "")
	port, err := pull.sock.BindToRandomPort(bindAddr)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to bind reply socket: %v", err)
	}
	replyURL := rpc.BuildURL(bindPattern, c.ip, strconv.Itoa(port))

	req := rpc.Request{Function: function, Args: args, Kwargs: kwargs, ReplyTo: replyURL}
	payload, err := encode(req)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to encode request: %v", err)
	}
	if _, err := push.sock.SendBytes(payload, 0); err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to send request: %v", err)
	}

	poller := zmq.NewPoller()
	poller.Add(pull.sock, zmq.POLLIN)
	polled, err := poller.Poll(c.timeout)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "poll error: %v", err)
	}
	if len(polled) == 0 {
		return nil, rpcerr.New(rpcerr.Timeout, "call to %s timed out after %s", function, c.timeout)
	}

	data, err := pull.sock.RecvBytes(0)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to receive reply: %v", err)
	}

	return decodeReply(data)
}

// Send connects a push socket and fires the request without a reply_to.
func (c *Client) Send(function string, args []any, kwargs map[string]any) error {
	zctx, err := zmqContext()
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to create zmq context: %w", err)
	}

	push, err := c.pool.acquire(zctx, kindPush)
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to create push socket: %w", err)
	}
	defer c.pool.finish(push)

	if err := push.sock.Connect(c.connectURL); err != nil {
		return fmt.Errorf("rpc/direct: failed to connect to %s: %w", c.connectURL, err)
	}

	req := rpc.Request{Function: function, Args: args, Kwargs: kwargs}
	payload, err := encode(req)
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to encode request: %w", err)
	}
	if _, err := push.sock.SendBytes(payload, 0); err != nil {
		return fmt.Errorf("rpc/direct: failed to send request: %w", err)
	}
	return nil
}

// Close stops the client's deferred-close pool, force-closing anything
// still lingering.
func (c *Client) Close() error {
	c.pool.closeAll()
	return nil
}

// Server is the DIRECT Server implementation: a single bound PULL socket
// for requests, plus its own deferred-close pool used to send replies.
type Server struct {
	url        string
	sock       *zmq.Socket
	pool       *deferredPool
	urlPattern string
}

func newServer(ip, port, urlPattern string) (rpc.Server, error) {
	pattern := urlPattern
	if pattern == "" {
		pattern = "tcp://{ip}:{port}"
	}
	url := rpc.BuildURL(pattern, ip, port)

	zctx, err := zmqContext()
	if err != nil {
		return nil, fmt.Errorf("rpc/direct: failed to create zmq context: %w", err)
	}
	sock, err := zctx.NewSocket(zmq.PULL)
	if err != nil {
		return nil, fmt.Errorf("rpc/direct: failed to create server socket: %w", err)
	}
	if err := sock.Bind(url); err != nil {
		return nil, fmt.Errorf("rpc/direct: failed to bind %s: %w", url, err)
	}

	return &Server{
		url:        url,
		sock:       sock,
		pool:       newDeferredPool(config.Get().RPC.SendTimeout),
		urlPattern: pattern,
	}, nil
}

func (s *Server) URL() string { return s.url }

// GetRequest blocks for one request on the bound pull socket.
func (s *Server) GetRequest() (rpc.Request, error) {
	data, err := s.sock.RecvBytes(0)
	if err != nil {
		return rpc.Request{}, fmt.Errorf("rpc/direct: receive error: %w", err)
	}
	var req rpc.Request
	if err := decode(data, &req); err != nil {
		return rpc.Request{}, fmt.Errorf("rpc/direct: decode error: %w", err)
	}
	return req, nil
}

// SendReply opens a scoped push socket to replyTo, sends value, and
// passes the socket into the deferred-close pool to let any in-flight
// bytes drain before it's actually closed.
func (s *Server) SendReply(replyTo string, value any) error {
	zctx, err := zmqContext()
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to create zmq context: %w", err)
	}
	push, err := s.pool.acquire(zctx, kindPush)
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to create reply socket: %w", err)
	}
	defer s.pool.finish(push)

	if err := push.sock.Connect(replyTo); err != nil {
		return fmt.Errorf("rpc/direct: failed to connect to reply address %s: %w", replyTo, err)
	}

	payload, err := encodeReply(value)
	if err != nil {
		return fmt.Errorf("rpc/direct: failed to encode reply: %w", err)
	}
	if _, err := push.sock.SendBytes(payload, 0); err != nil {
		return fmt.Errorf("rpc/direct: failed to send reply: %w", err)
	}
	return nil
}

// Close closes the bound socket and force-drains the deferred pool.
func (s *Server) Close() error {
	s.pool.closeAll()
	return s.sock.Close()
}
