package mcast

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// dispatcher runs listener callbacks on a fixed number of worker goroutines,
// in FIFO order, so that slow listeners never block the network goroutines.
type dispatcher struct {
	mut     sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool
	active  int
	workers int
	logger  log.Logger
}

func newDispatcher(workers int, logger log.Logger) *dispatcher {
	d := &dispatcher{
		workers: workers,
		logger:  logger,
	}

	d.cond = sync.NewCond(&d.mut)

	return d
}

// start spawns the workers. Workers left from a previous run that are still
// draining the queue count towards the limit.
func (d *dispatcher) start() {
	d.mut.Lock()
	defer d.mut.Unlock()

	d.running = true

	for d.active < d.workers {
		d.active++

		go d.work()
	}
}

// stop lets the workers exit once the queue is drained. It does not wait for
// them, since it may be called from a listener.
func (d *dispatcher) stop() {
	d.mut.Lock()
	d.running = false
	d.mut.Unlock()

	d.cond.Broadcast()
}

// dispatch queues fn for execution. It returns false when the dispatcher is
// not running.
func (d *dispatcher) dispatch(fn func()) bool {
	d.mut.Lock()
	defer d.mut.Unlock()

	if !d.running {
		return false
	}

	d.queue = append(d.queue, fn)
	d.cond.Signal()

	return true
}

func (d *dispatcher) next() (func(), bool) {
	d.mut.Lock()
	defer d.mut.Unlock()

	for len(d.queue) == 0 && d.running {
		d.cond.Wait()
	}

	if len(d.queue) == 0 {
		d.active--
		return nil, false
	}

	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]

	return fn, true
}

func (d *dispatcher) work() {
	for {
		fn, ok := d.next()
		if !ok {
			return
		}

		d.call(fn)
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(d.logger).Log("msg", "listener panicked", "err", fmt.Sprint(r))
		}
	}()

	fn()
}
