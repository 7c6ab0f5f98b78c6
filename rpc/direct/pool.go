package direct

import (
	"log"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// sockKind distinguishes the two socket types the DIRECT backend uses.
type sockKind int

const (
	kindPush sockKind = iota
	kindPull
)

// scopedSocket wraps a zmq socket with the acquire/finish lifecycle spec.md
// §4.3 describes: acquisition creates the underlying socket, scope exit
// (finish) only marks it as no longer needed -- closing is deferred to the
// pool's sweep policy.
type scopedSocket struct {
	kind      sockKind
	sock      *zmq.Socket
	createdAt time.Time
	finished  bool
}

// deferredPool is a list of sockets awaiting close, grounded on
// original_source/dao/common/rpc_driver/zmq.py's
// ZMQSocket.sockets_pool/_clean_up. Each Client and Server owns its own
// pool; pools are not shared across instances, and closeAll on one pool
// leaves the sockets of every other pool alone. A dedicated reaper goroutine also
// sweeps on a timer so the invariant in spec.md §8 ("the pool holds 0
// lingering sockets" after quiescence) holds even without further
// acquisitions -- see Design Notes §9, option (a).
type deferredPool struct {
	mu          sync.Mutex
	entries     []*scopedSocket
	sendLinger  time.Duration
	stopReaper  chan struct{}
	reaperOnce  sync.Once
	reaperWG    sync.WaitGroup
}

func newDeferredPool(sendLinger time.Duration) *deferredPool {
	p := &deferredPool{
		sendLinger: sendLinger,
		stopReaper: make(chan struct{}),
	}
	p.reaperWG.Add(1)
	go p.reapLoop()
	return p
}

// acquire creates a new socket of the given kind, registers it with the
// pool, and sweeps finished entries -- mirroring ZMQSocket.__init__'s call
// to _clean_up on every construction.
func (p *deferredPool) acquire(ctx *zmq.Context, kind sockKind) (*scopedSocket, error) {
	zt := zmq.PUSH
	if kind == kindPull {
		zt = zmq.PULL
	}
	sock, err := ctx.NewSocket(zt)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(p.sendLinger); err != nil {
		log.Printf("rpc/direct: failed to set linger: %v", err)
	}

	entry := &scopedSocket{kind: kind, sock: sock, createdAt: time.Now()}

	p.mu.Lock()
	p.entries = append(p.entries, entry)
	p.mu.Unlock()

	p.sweep()
	return entry, nil
}

// finish marks a socket as scope-exited: the underlying handle is not
// closed here, only flagged eligible for the next sweep.
func (p *deferredPool) finish(e *scopedSocket) {
	p.mu.Lock()
	e.finished = true
	p.mu.Unlock()
	p.sweep()
}

// sweep applies the close policy from spec.md §4.3:
//   - finished + handle never opened: drop bookkeeping only (can't happen
//     in this Go port since acquire always opens the handle, kept for
//     parity with the source's defensive check).
//   - finished + PULL: close immediately, no lingering replies expected.
//   - finished + PUSH: close only once age >= sendLinger, so an in-flight
//     outbound reply has had time to drain.
func (p *deferredPool) sweep() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.entries[:0]
	for _, e := range p.entries {
		if !e.finished {
			kept = append(kept, e)
			continue
		}
		if e.sock == nil {
			continue
		}
		ready := e.kind == kindPull || now.Sub(e.createdAt) >= p.sendLinger
		if ready {
			if err := e.sock.Close(); err != nil {
				log.Printf("rpc/direct: error closing socket: %v", err)
			}
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
}

// reapLoop sweeps periodically so PUSH sockets that never see another
// acquisition still get closed once they've aged past sendLinger.
func (p *deferredPool) reapLoop() {
	defer p.reaperWG.Done()
	interval := p.sendLinger / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopReaper:
			return
		}
	}
}

// pending reports how many sockets the pool is still holding, used by
// tests to assert the "0 lingering sockets" property from spec.md §8.
func (p *deferredPool) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// closeAll force-closes every socket still tracked and stops the reaper.
// Used when a Client/Server shuts down.
func (p *deferredPool) closeAll() {
	p.reaperOnce.Do(func() { close(p.stopReaper) })
	p.reaperWG.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.sock != nil {
			_ = e.sock.Close()
		}
	}
	p.entries = nil
}
