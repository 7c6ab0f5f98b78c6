// Package rpc implements the transport-pluggable RPC subsystem: a
// request/reply mechanism over either a brokerless push/pull socket
// backend (direct) or a broker-based exchange/queue backend (brokered).
// Concrete backends live in the sibling rpc/direct and rpc/brokered
// packages and register themselves with this package's backend registry.
package rpc

import (
	"fmt"
	"time"
)

// Client is the caller-facing half of the transport contract (spec.md §4.2).
type Client interface {
	// Call performs a blocking request/reply bounded by the client's
	// configured timeout. Returns rpcerr.Error on a decoded server
	// exception, or a Timeout/NotFound/Generic rpcerr.Error on
	// transport-level failure.
	Call(function string, args []any, kwargs map[string]any) (any, error)
	// Send is fire-and-forget: no reply is awaited.
	Send(function string, args []any, kwargs map[string]any) error
	// Close releases any transport resources held by the client.
	Close() error
}

// Server is the callee-facing half of the transport contract.
type Server interface {
	// GetRequest blocks for exactly one incoming request record.
	GetRequest() (Request, error)
	// SendReply delivers value to the reply_to address captured from a
	// prior GetRequest. value may be any serializable value or an
	// *rpcerr.Error.
	SendReply(replyTo string, value any) error
	// URL returns the address this server is bound to.
	URL() string
	// Close shuts the server down, releasing bound sockets/queues.
	Close() error
}

// ClientOptions configures Client construction (spec.md §4.2): either
// ConnectURL or both IP and Port must be set.
type ClientOptions struct {
	ConnectURL string
	IP         string
	Port       string
	Timeout    time.Duration

	URLPattern string // used to derive ConnectURL from IP/Port when unset
}

// resolveConnectURL applies BuildURL when ConnectURL is unset, and fails
// with a plain invalid-argument error (not an *rpcerr.Error) when neither
// form is given.
func (o ClientOptions) resolveConnectURL() (string, error) {
	if o.ConnectURL != "" {
		return o.ConnectURL, nil
	}
	if o.IP != "" && o.Port != "" {
		pattern := o.URLPattern
		if pattern == "" {
			pattern = "tcp://{ip}:{port}"
		}
		return BuildURL(pattern, o.IP, o.Port), nil
	}
	return "", fmt.Errorf("rpc: invalid argument: requires either ConnectURL or IP+Port")
}

// ClientFactory constructs a Client for a given backend.
type ClientFactory func(opts ClientOptions) (Client, error)

// ServerFactory constructs a Server bound to ip:port for a given backend,
// using urlPattern to build both the bind address and the URL it reports
// (spec.md §4.1: url_pattern governs bind as well as connect addresses).
type ServerFactory func(ip, port, urlPattern string) (Server, error)

type backend struct {
	newClient ClientFactory
	newServer ServerFactory
}

var backends = map[string]backend{}

// RegisterBackend installs a named transport backend into the static
// registry consulted by NewClient/NewServer. Called from each backend
// package's init(), per Design Notes §9 ("static registry ... consulted
// once at startup" instead of dynamic module import).
func RegisterBackend(name string, newClient ClientFactory, newServer ServerFactory) {
	backends[name] = backend{newClient: newClient, newServer: newServer}
}

func lookup(driver string) (backend, error) {
	b, ok := backends[driver]
	if !ok {
		return backend{}, fmt.Errorf("rpc: unknown driver %q (forgot to import the backend package?)", driver)
	}
	return b, nil
}

// NewClient builds a Client using the backend named by driver.
func NewClient(driver string, opts ClientOptions) (Client, error) {
	b, err := lookup(driver)
	if err != nil {
		return nil, err
	}
	connectURL, err := opts.resolveConnectURL()
	if err != nil {
		return nil, err
	}
	opts.ConnectURL = connectURL
	return b.newClient(opts)
}

// NewServer builds a Server using the backend named by driver, bound to
// ip:port. urlPattern is threaded through to the backend the same way
// ClientOptions.URLPattern is on the client side; an empty urlPattern lets
// the backend fall back to its own default.
func NewServer(driver, ip, port, urlPattern string) (Server, error) {
	b, err := lookup(driver)
	if err != nil {
		return nil, err
	}
	return b.newServer(ip, port, urlPattern)
}
