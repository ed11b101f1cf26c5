// Package jobqueue is the minimal background-work dispatcher the send
// dispatcher (§4.4) and location engine (§4.6) enqueue onto. The actual
// SMTP/IMAP transport and any generic job-persistence layer are external
// collaborators this specification explicitly does not respecify
// (spec.md §1); this package only provides the in-process scheduling
// contract those components are written against, grounded on the
// teacher's internal/sync.Scheduler ticker-and-callback pattern.
package jobqueue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
)

// Job is one unit of work: a kind tag (e.g. "send-msg", "location-send",
// "housekeeping") and an opaque numeric key (usually a message or chat id)
// a Handler uses to look up what it actually needs to do.
type Job struct {
	Kind string
	Key  int64
}

// Handler processes one job. A non-nil error is logged and the job is
// dropped; the queue does not retry it.
type Handler func(ctx context.Context, job Job) error

// Queue is an in-process, unbounded FIFO of jobs dispatched to registered
// handlers by kind. It does not persist across restarts — a durable queue
// is outside this specification's scope, per spec.md §1.
type Queue struct {
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  []Job
	notify   chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates an empty job queue.
func New() *Queue {
	return &Queue{
		log:      logging.WithComponent("jobqueue"),
		handlers: make(map[string]Handler),
		notify:   make(chan struct{}, 1),
	}
}

// Register installs the handler invoked for jobs of the given kind. It
// must be called before Start.
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue appends a job and wakes the dispatch loop.
func (q *Queue) Enqueue(kind string, key int64) {
	q.mu.Lock()
	q.pending = append(q.pending, Job{Kind: kind, Key: key})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop in a background goroutine until ctx is
// done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
}

// Stop signals the dispatch loop to exit and waits for it to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	for {
		q.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		job, ok := q.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		h := q.handlers[job.Kind]
		q.mu.Unlock()

		if h == nil {
			q.log.Warn().Str("kind", job.Kind).Msg("no handler registered for job kind")
			continue
		}
		if err := h(ctx, job); err != nil {
			q.log.Error().Err(err).Str("kind", job.Kind).Int64("key", job.Key).Msg("job handler failed")
		}
	}
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Job{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

// Len reports the number of jobs currently queued, mostly useful in tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
