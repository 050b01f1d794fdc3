package status

import (
	"context"
	"sync"
)

// dispatcher moves listener I/O off the executor goroutine.
//
// Jobs run in submission order on the goroutine calling run. The state
// slot holds only the newest snapshot write and is never dropped; a
// pending snapshot is written before the next job.
type dispatcher struct {
	jobs chan func()
	wake chan struct{}

	mu      sync.Mutex
	state   func()
	dropped int
}

func newDispatcher(size int) *dispatcher {
	return &dispatcher{
		jobs: make(chan func(), size),
		wake: make(chan struct{}, 1),
	}
}

// setState replaces any pending snapshot write with job.
func (d *dispatcher) setState(job func()) {
	d.mu.Lock()
	d.state = job
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// submit queues job. It returns false and the running drop count when the
// queue is full.
func (d *dispatcher) submit(job func()) (bool, int) {
	select {
	case d.jobs <- job:
		return true, 0
	default:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.dropped++
		return false, d.dropped
	}
}

func (d *dispatcher) droppedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *dispatcher) flushState() {
	d.mu.Lock()
	job := d.state
	d.state = nil
	d.mu.Unlock()

	if job != nil {
		job()
	}
}

// run executes work until ctx is cancelled, then drains what is pending.
func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-d.wake:
			d.flushState()
		case job := <-d.jobs:
			d.flushState()
			job()
		case <-ctx.Done():
			for {
				d.flushState()
				select {
				case job := <-d.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}
