package worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/signcast/api/internal/model"
)

// ErrPoolClosed is returned by Dispatch after Shutdown
var ErrPoolClosed = errors.New("worker pool is shut down")

const (
	// queued jobs per worker before Dispatch blocks
	queueDepth = 64
	// settled jobs whose done channel stays reachable through Done
	doneHistory = 1024
)

type poolJob struct {
	payload *model.TranslateJobPayload
	done    chan struct{}
}

// Pool runs jobs in-process on a fixed set of workers. Each dispatched job
// gets a done channel that closes when it settles.
type Pool struct {
	runner  JobRunner
	queue   chan poolJob
	workers sync.WaitGroup
	senders sync.WaitGroup
	drained chan struct{}

	mu      sync.Mutex
	done    map[string]chan struct{}
	settled []string
	closed  bool
}

func NewPool(runner JobRunner, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		runner:  runner,
		queue:   make(chan poolJob, size*queueDepth),
		done:    make(map[string]chan struct{}),
		drained: make(chan struct{}),
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

// Dispatch queues the job, blocking while the queue is full. The job runs
// detached from ctx, which only covers the hand-off.
func (p *Pool) Dispatch(ctx context.Context, payload *model.TranslateJobPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	job := poolJob{payload: payload, done: make(chan struct{})}
	p.done[payload.JobID] = job.done
	p.senders.Add(1)
	p.mu.Unlock()
	defer p.senders.Done()

	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.done, payload.JobID)
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.workers.Done()
	for job := range p.queue {
		if err := p.runner.Run(context.Background(), job.payload.JobID, job.payload.AudioPath); err != nil {
			log.Printf("Translate job %s finished with error: %v", job.payload.JobID, err)
		}
		close(job.done)
		p.forget(job.payload.JobID)
	}
}

// forget keeps only the most recent settled jobs in the done map
func (p *Pool) forget(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, jobID)
	if len(p.settled) > doneHistory {
		delete(p.done, p.settled[0])
		p.settled = p.settled[1:]
	}
}

// Done returns a channel closed once jobID settles, or nil if the job was
// never dispatched here or settled long ago.
func (p *Pool) Done(jobID string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.done[jobID]
	if !ok {
		return nil
	}
	return ch
}

// Shutdown stops accepting jobs, lets the workers drain the queue and waits
// for them or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		go func() {
			p.senders.Wait()
			close(p.queue)
			p.workers.Wait()
			close(p.drained)
		}()
	}
	p.mu.Unlock()

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
