package rpc

import (
	"log"
	"sync"

	"github.com/phuhao00/daorpc/rpcerr"
)

// WorkerPoolCapacity bounds the number of concurrently running dispatched
// handlers (spec.md §5: "pool caps at 10000 concurrent tasks; submission
// blocks the accept loop until a slot frees").
const WorkerPoolCapacity = 10000

// Dispatcher runs a Server's accept loop: pop a request, look up its
// handler by name, run it on a bounded worker pool, and route the result
// (or error envelope) back through the backend's SendReply.
//
// It is the Go analogue of dao.common.rpc.RPCServer.do_main/_call/_spawn:
// the handler table replaces Python's unrestricted getattr dispatch (see
// Design Notes in spec.md §9), and the eventlet GreenPool(10000) becomes a
// buffered channel used as a counting semaphore.
type Dispatcher struct {
	backend  Server
	mu       sync.RWMutex
	handlers map[string]Handler
	sem      chan struct{}
	wg       sync.WaitGroup

	// acceptMu serializes dispatch's "am I still accepting work" check
	// against Stop's shutdown so a request that arrives concurrently with
	// Stop can never be counted into wg after Stop's wg.Wait has returned.
	acceptMu sync.RWMutex
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher wraps a backend Server with method dispatch.
func NewDispatcher(backend Server) *Dispatcher {
	return &Dispatcher{
		backend:  backend,
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, WorkerPoolCapacity),
		stopped:  make(chan struct{}),
	}
}

// Register installs the handler for a method name, overwriting any
// previous registration for that name (matches RegisterHandler's
// overwrite semantics in the teacher's infra/network/rpc.go).
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

func (d *Dispatcher) handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Serve runs the accept loop until Stop is called, then returns nil.
// Transport errors from GetRequest and malformed requests are logged and
// skipped -- the loop never exits because of a backend error or one bad
// request (spec.md §4.5 step 4, §7).
func (d *Dispatcher) Serve() error {
	for {
		select {
		case <-d.stopped:
			return nil
		default:
		}

		req, err := d.backend.GetRequest()
		if err != nil {
			select {
			case <-d.stopped:
				return nil
			default:
			}
			log.Printf("rpc: dispatcher: error receiving request: %v", err)
			continue
		}
		if req.Function == "" {
			log.Printf("rpc: dispatcher: dropping malformed request (missing function)")
			continue
		}

		if !d.dispatch(req) {
			return nil
		}
	}
}

// dispatch submits one request to the worker pool, unless Stop has already
// run. Acquiring the semaphore slot happens in the caller's goroutine (the
// accept loop), so a full pool genuinely blocks further accepts, matching
// spec.md §5's "submission blocks the accept loop until a slot frees".
//
// acceptMu.RLock is held across the stopped-check and wg.Add so a request
// racing Stop either gets counted into wg before Stop's wg.Wait begins, or
// is rejected outright -- never spawned after Stop has already returned.
func (d *Dispatcher) dispatch(req Request) bool {
	d.acceptMu.RLock()
	select {
	case <-d.stopped:
		d.acceptMu.RUnlock()
		return false
	default:
	}
	d.sem <- struct{}{}
	d.wg.Add(1)
	d.acceptMu.RUnlock()

	go func() {
		defer func() {
			<-d.sem
			d.wg.Done()
		}()
		d.invoke(req)
	}()
	return true
}

func (d *Dispatcher) invoke(req Request) {
	var reply any
	handler, ok := d.handler(req.Function)
	if !ok {
		reply = rpcerr.New(rpcerr.NotFound, "no handler found for method: %s", req.Function)
	} else {
		value, err := func() (value any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = rpcerr.New(rpcerr.Generic, "panic in handler %s: %v", req.Function, r)
				}
			}()
			return handler(req.Args, req.Kwargs)
		}()
		if err != nil {
			log.Printf("rpc: dispatcher: handler %s returned error: %v", req.Function, err)
			reply = rpcerr.FromError(err)
		} else {
			reply = value
		}
	}

	if req.ReplyTo == "" {
		return
	}
	if err := d.backend.SendReply(req.ReplyTo, reply); err != nil {
		log.Printf("rpc: dispatcher: failed to send reply to %s: %v", req.ReplyTo, err)
	}
}

// Stop signals Serve to return after the current GetRequest call unblocks,
// and waits for in-flight handlers to finish (the dispatched method "runs
// to completion regardless of client abandonment", spec.md §5). Taking
// acceptMu before closing stopped ensures any dispatch call already past
// its stopped-check has finished registering with wg before Stop starts
// waiting, so wg.Wait never returns early and strands a goroutine that
// dispatch decides to spawn after Stop has already returned.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.acceptMu.Lock()
		close(d.stopped)
		d.acceptMu.Unlock()
	})
	d.wg.Wait()
}
