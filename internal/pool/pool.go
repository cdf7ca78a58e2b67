package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes integration jobs in order of their deadlines, using a fixed
// number of goroutines. Each job returns the time at which it wants to run
// next; returning the zero time removes the job from the pool. If a job is
// added while a worker is waiting for the next deadline, the worker wakes up
// to consider the new job immediately.
type Pool struct {
	mu    sync.Mutex
	queue []*job
	reg   map[string]*job
	wait  chan struct{}
	stop  chan struct{}
}

type job struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(workers int) *Pool {
	p := Pool{reg: make(map[string]*job), stop: make(chan struct{})}

	for range workers {
		go p.work()
	}

	return &p
}

// Add schedules the named job for immediate execution.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&job{name: name, fn: fn, deadline: time.Now()})
}

// Stop shuts down the worker goroutines. Jobs already executing finish their
// current run; queued jobs are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) work() {
	for {
		j := p.dequeue()
		if j == nil {
			return
		}
		p.enqueue(j.execute(context.Background()))
	}
}

// Trigger runs the named job NOW, if it is in the queue, regardless of its
// previous deadline, by pulling it to the front. If the named job is not
// queued, it is running; in that case its next deadline is overridden to NOW,
// causing an immediate re-run after the current one.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(j *job) bool { return j.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	if j, ok := p.reg[n]; ok {
		j.rerun = true
		return nil
	}

	return fmt.Errorf("no job with name %s", n)
}

// sortAndWake must be called with p.mu held.
func (p *Pool) sortAndWake() {
	slices.SortFunc(p.queue, func(a, b *job) int {
		return a.deadline.Compare(b.deadline)
	})

	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(j *job) {
	if j.deadline.IsZero() {
		// Job requested removal from the pool.
		p.mu.Lock()
		delete(p.reg, j.name)
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.reg[j.name] = j
	p.queue = append(p.queue, j)
	p.sortAndWake()
	p.mu.Unlock()
}

func (p *Pool) dequeue() *job {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		select {
		case <-p.stop:
			return nil
		default:
		}

		var j *job
		if len(p.queue) == 0 {
			j = &job{name: "idle", deadline: time.Now().Add(time.Hour * 24 * 365)}
		} else {
			j = p.queue[0]
		}

		if j.deadline.After(time.Now()) {
			// Not ready yet; wait for the deadline or for an earlier job to
			// arrive.
			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			select {
			case <-time.After(time.Until(j.deadline)):
			case <-wait:
			case <-p.stop:
			}

			p.mu.Lock()
			continue
		}

		break
	}

	var j *job
	j, p.queue = p.queue[0], p.queue[1:]
	return j
}

func (j *job) execute(ctx context.Context) *job {
	j.deadline = j.fn(ctx)
	if j.rerun {
		j.rerun = false
		j.deadline = time.Now()
	}
	return j
}
