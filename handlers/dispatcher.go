package handlers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Job - Unit of work run by a dispatcher worker
type Job func(ctx context.Context)

// Dispatcher - Bounded queue of gateway events consumed by a fixed set of workers
type Dispatcher struct {
	jobs    chan Job
	quit    chan struct{}
	workers int

	// mu is held for reading while a job is handed over, Stop takes it for writing
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher - Create a dispatcher, call Start before enqueueing
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		jobs:    make(chan Job, queueSize),
		quit:    make(chan struct{}),
		workers: workers,
	}
}

// Start - Launch the workers, jobs receive ctx
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	log.WithField("workers", d.workers).Debug("dispatcher started")
}

// Enqueue - Queue a job, blocks while the queue is full.
// Returns false when ctx is done or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop - Run what is queued, then wait for the workers to exit
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.quit)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobs:
			run(ctx, job)
		case <-d.quit:
			for {
				select {
				case job := <-d.jobs:
					run(ctx, job)
				default:
					return
				}
			}
		}
	}
}

func run(ctx context.Context, job Job) {
	defer recoverFromPanic()
	job(ctx)
}

func recoverFromPanic() {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"component": "dispatcher",
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("recovered from panic in event handler")
	}
}
