package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1:5555", BuildURL("tcp://{ip}:{port}", "127.0.0.1", "5555"))
	assert.Equal(t, "tcp://*:5555", BuildURL("tcp://{ip}:{port}", "*", "5555"))
}

func TestBuildURL_NoPort(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1", BuildURL("tcp://{ip}:{port}", "127.0.0.1", ""))
}

func TestClientOptions_ResolveConnectURL(t *testing.T) {
	url, err := ClientOptions{ConnectURL: "tcp://10.0.0.1:9999"}.resolveConnectURL()
	assert.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.1:9999", url)

	url, err = ClientOptions{IP: "10.0.0.1", Port: "9999"}.resolveConnectURL()
	assert.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.1:9999", url)

	_, err = ClientOptions{}.resolveConnectURL()
	assert.Error(t, err)
}
