// Package brokered implements the BROKERED RPC transport backend: a
// classic broker-based backend with a per-call exchange and reply queue,
// built over github.com/rabbitmq/amqp091-go (spec.md §4.4).
package brokered

import (
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"

	"github.com/phuhao00/daorpc/config"
	"github.com/phuhao00/daorpc/rpc"
	"github.com/phuhao00/daorpc/rpcerr"
)

// DriverName is the config value for rpc.driver selecting this backend.
const DriverName = "brokered"

func init() {
	rpc.RegisterBackend(DriverName, newClient, newServer)
}

func dialURL(cfg config.RabbitConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
}

func dial(cfg config.RabbitConfig) (*amqp.Connection, error) {
	return amqp.DialConfig(dialURL(cfg), amqp.Config{
		Heartbeat: time.Duration(cfg.KeepAlive) * time.Second,
	})
}

func isNotFound(err error) bool {
	if aerr, ok := err.(*amqp.Error); ok {
		return aerr.Code == amqp.NotFound
	}
	return false
}

// Client is the BROKERED Client implementation.
type Client struct {
	connectURL string
	timeout    time.Duration
	rabbit     config.RabbitConfig
}

func newClient(opts rpc.ClientOptions) (rpc.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		connectURL: opts.ConnectURL,
		timeout:    timeout,
		rabbit:     config.Get().Rabbit,
	}, nil
}

// Send declares an ephemeral direct exchange, binds the server's queue to
// it, and publishes the request -- matching amqp.py's Client._send.
func (c *Client) Send(function string, args []any, kwargs map[string]any) error {
	req := rpc.Request{Function: function, Args: args, Kwargs: kwargs}
	return c.send(req)
}

func (c *Client) send(req rpc.Request) error {
	conn, err := dial(c.rabbit)
	if err != nil {
		return fmt.Errorf("rpc/brokered: dial failed: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rpc/brokered: channel failed: %w", err)
	}
	defer ch.Close()

	exchangeName := uuid.New().String() + "_" + c.connectURL
	if err := ch.ExchangeDeclare(exchangeName, "direct", false, true, false, false, nil); err != nil {
		return fmt.Errorf("rpc/brokered: exchange declare failed: %w", err)
	}
	defer ch.ExchangeDelete(exchangeName, false, false)

	if err := ch.QueueBind(c.connectURL, "", exchangeName, false, nil); err != nil {
		if isNotFound(err) {
			return rpcerr.New(rpcerr.NotFound, "unable to connect to %s", c.connectURL)
		}
		return fmt.Errorf("rpc/brokered: queue bind failed: %w", err)
	}

	body, err := encodeRequest(req)
	if err != nil {
		return fmt.Errorf("rpc/brokered: encode failed: %w", err)
	}

	return ch.Publish(exchangeName, "", true, false, amqp.Publishing{Body: body})
}

// Call generates a reply_to queue name, declares it exclusively, starts a
// consumer, then performs Send with reply_to embedded, and waits for the
// first message or the call timeout -- matching amqp.py's Client.call/_call.
func (c *Client) Call(function string, args []any, kwargs map[string]any) (any, error) {
	conn, err := dial(c.rabbit)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "dial failed: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "channel failed: %v", err)
	}
	defer ch.Close()

	replyTo := "client_" + uuid.New().String()
	if _, err := ch.QueueDeclare(replyTo, false, true, true, false, nil); err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "reply queue declare failed: %v", err)
	}
	defer ch.QueueDelete(replyTo, false, false, false)

	deliveries, err := ch.Consume(replyTo, "", true, true, false, false, nil)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "consume failed: %v", err)
	}

	req := rpc.Request{Function: function, Args: args, Kwargs: kwargs, ReplyTo: replyTo}
	if err := c.sendOnChannel(ch, req); err != nil {
		return nil, err
	}

	select {
	case delivery, ok := <-deliveries:
		if !ok {
			return nil, rpcerr.New(rpcerr.Generic, "reply channel closed unexpectedly")
		}
		return decodeReply(delivery.Body)
	case <-time.After(c.timeout):
		return nil, rpcerr.New(rpcerr.Timeout, "call to %s timed out after %s", function, c.timeout)
	}
}

// sendOnChannel is Send's body reusing an already-open channel, used by
// Call so the per-call exchange publish happens on the same connection
// that's consuming the reply queue.
func (c *Client) sendOnChannel(ch *amqp.Channel, req rpc.Request) error {
	exchangeName := uuid.New().String() + "_" + c.connectURL
	if err := ch.ExchangeDeclare(exchangeName, "direct", false, true, false, false, nil); err != nil {
		return rpcerr.New(rpcerr.Generic, "exchange declare failed: %v", err)
	}
	defer ch.ExchangeDelete(exchangeName, false, false)

	if err := ch.QueueBind(c.connectURL, "", exchangeName, false, nil); err != nil {
		if isNotFound(err) {
			return rpcerr.New(rpcerr.NotFound, "unable to connect to %s", c.connectURL)
		}
		return rpcerr.New(rpcerr.Generic, "queue bind failed: %v", err)
	}

	body, err := encodeRequest(req)
	if err != nil {
		return rpcerr.New(rpcerr.Generic, "encode failed: %v", err)
	}
	if err := ch.Publish(exchangeName, "", true, false, amqp.Publishing{Body: body}); err != nil {
		return rpcerr.New(rpcerr.Generic, "publish failed: %v", err)
	}
	return nil
}

// Close is a no-op: BROKERED opens a connection+channel scoped to each
// call/send and tears it down on return, so there is nothing long-lived
// to release here.
func (c *Client) Close() error { return nil }

// Server is the BROKERED Server implementation: one long-lived connection
// and channel, consuming auto-ack from its own named queue.
type Server struct {
	url    string
	rabbit config.RabbitConfig

	conn     *amqp.Connection
	ch       *amqp.Channel
	delivery <-chan amqp.Delivery

	closed chan struct{}
}

func newServer(ip, port, urlPattern string) (rpc.Server, error) {
	pattern := urlPattern
	if pattern == "" {
		pattern = "tcp://{ip}:{port}"
	}
	url := rpc.BuildURL(pattern, ip, port)
	s := &Server{
		url:    url,
		rabbit: config.Get().Rabbit,
		closed: make(chan struct{}),
	}
	if err := s.setupConnection(); err != nil {
		return nil, err
	}
	if err := s.setupQueue(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) URL() string { return s.url }

func (s *Server) setupConnection() error {
	conn, err := dial(s.rabbit)
	if err != nil {
		return fmt.Errorf("rpc/brokered: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rpc/brokered: channel failed: %w", err)
	}
	s.conn = conn
	s.ch = ch
	return nil
}

func (s *Server) setupQueue() error {
	if _, err := s.ch.QueueDeclare(s.url, false, false, false, false, nil); err != nil {
		return fmt.Errorf("rpc/brokered: queue declare failed: %w", err)
	}
	// Auto-ack (no_ack=true): at-most-once server-side consumption, per
	// DESIGN.md's resolution of the source's ack-mode ambiguity.
	deliveries, err := s.ch.Consume(s.url, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rpc/brokered: consume failed: %w", err)
	}
	s.delivery = deliveries
	return nil
}

// GetRequest drains broker events until a message arrives, reconnecting on
// failure: delete queue, close connection, re-declare; sleep
// rabbit.reconnect_on and rethrow if re-declaration itself fails, matching
// amqp.py's Server.get_request.
func (s *Server) GetRequest() (rpc.Request, error) {
	for {
		select {
		case <-s.closed:
			return rpc.Request{}, fmt.Errorf("rpc/brokered: server closed")
		case delivery, ok := <-s.delivery:
			if !ok {
				if err := s.reconnect(); err != nil {
					return rpc.Request{}, err
				}
				continue
			}
			var req rpc.Request
			if err := decodeRequest(delivery.Body, &req); err != nil {
				log.Printf("rpc/brokered: dropping malformed request: %v", err)
				continue
			}
			return req, nil
		}
	}
}

func (s *Server) reconnect() error {
	log.Printf("rpc/brokered: consumer channel closed, reconnecting")
	if s.ch != nil {
		s.ch.QueueDelete(s.url, false, false, false)
	}
	if s.conn != nil {
		s.conn.Close()
	}

	if err := s.setupConnection(); err == nil {
		if err := s.setupQueue(); err == nil {
			return nil
		}
	}
	time.Sleep(time.Duration(s.rabbit.ReconnectOn) * time.Second)
	return fmt.Errorf("rpc/brokered: failed to reconnect")
}

// SendReply publishes to the default exchange with routing_key = reply_to.
func (s *Server) SendReply(replyTo string, value any) error {
	body, err := encodeReply(value)
	if err != nil {
		return fmt.Errorf("rpc/brokered: failed to encode reply: %w", err)
	}
	return s.ch.Publish("", replyTo, false, false, amqp.Publishing{Body: body})
}

func (s *Server) Close() error {
	close(s.closed)
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func decodeRequest(data []byte, req *rpc.Request) error {
	r, err := decodeRequestBody(data)
	if err != nil {
		return err
	}
	*req = r
	return nil
}
