package direct

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredPool_PullClosesImmediatelyOnFinish(t *testing.T) {
	pool := newDeferredPool(time.Minute)
	defer pool.closeAll()

	zctx, err := zmqContext()
	require.NoError(t, err)
	entry, err := pool.acquire(zctx, kindPull)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.pending())

	pool.finish(entry)
	assert.Equal(t, 0, pool.pending(), "PULL sockets should close as soon as they're finished")
}

func TestDeferredPool_PushLingersUntilSendTimeout(t *testing.T) {
	linger := 80 * time.Millisecond
	pool := newDeferredPool(linger)
	defer pool.closeAll()

	zctx, err := zmqContext()
	require.NoError(t, err)
	entry, err := pool.acquire(zctx, kindPush)
	require.NoError(t, err)

	pool.finish(entry)
	assert.Equal(t, 1, pool.pending(), "PUSH sockets should linger until they've aged past sendLinger")

	time.Sleep(linger + 2*linger/4 + 20*time.Millisecond)
	assert.Equal(t, 0, pool.pending(), "reaper should have swept the aged PUSH socket")
}

func TestDeferredPool_CloseAllDrainsEverything(t *testing.T) {
	pool := newDeferredPool(time.Hour)
	zctx, err := zmqContext()
	require.NoError(t, err)
	_, err = pool.acquire(zctx, kindPush)
	require.NoError(t, err)
	_, err = pool.acquire(zctx, kindPull)
	require.NoError(t, err)

	pool.closeAll()
	assert.Equal(t, 0, pool.pending())
}
