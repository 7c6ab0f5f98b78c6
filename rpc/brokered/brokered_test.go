package brokered

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/daorpc/config"
	"github.com/phuhao00/daorpc/rpc"
	"github.com/phuhao00/daorpc/rpcerr"
)

// requireBroker skips the test unless a RabbitMQ broker is reachable at the
// default config -- this backend has no in-process fake, so its tests are
// integration tests against a real broker, the same way the rest of this
// pack skips DB/broker-backed tests when the service isn't available.
func requireBroker(t *testing.T) config.RabbitConfig {
	t.Helper()
	cfg := config.Get().Rabbit
	conn, err := dial(cfg)
	if err != nil {
		t.Skipf("rabbitmq not reachable at %s:%d, skipping: %v", cfg.Host, cfg.Port, err)
	}
	conn.Close()
	return cfg
}

func TestBrokeredCall_Success(t *testing.T) {
	requireBroker(t)

	server, err := newServer("127.0.0.1", "test.brokered.echo", "")
	require.NoError(t, err)
	defer server.Close()

	go func() {
		req, err := server.GetRequest()
		if err != nil {
			return
		}
		server.SendReply(req.ReplyTo, map[string]any{"echo": req.Args[0]})
	}()

	client, err := newClient(rpc.ClientOptions{ConnectURL: server.URL(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Call("echo", []any{"hi"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, reply)
}

func TestBrokeredCall_UnknownQueueIsNotFound(t *testing.T) {
	requireBroker(t)

	client, err := newClient(rpc.ClientOptions{ConnectURL: "no.such.queue.exists", Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call("echo", nil, nil)
	require.Error(t, err)
	assert.True(t, rpcerr.Is(err, rpcerr.NotFound))
}

func TestBrokeredSend_FireAndForget(t *testing.T) {
	requireBroker(t)

	server, err := newServer("127.0.0.1", "test.brokered.send", "")
	require.NoError(t, err)
	defer server.Close()

	client, err := newClient(rpc.ClientOptions{ConnectURL: server.URL(), Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send("log", []any{"fire and forget"}, nil))

	req, err := server.GetRequest()
	require.NoError(t, err)
	assert.Equal(t, "log", req.Function)
	assert.Empty(t, req.ReplyTo)
}
