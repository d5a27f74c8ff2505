package email

import (
	"context"
	"slices"
	"sync"
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/sourcegraph/conc/pool"
)

const (
	defaultSendTimeout = time.Minute
	defaultWorkers     = 4
	defaultQueueSize   = 100
)

type queuedEmail struct {
	ctx     context.Context
	to      []string
	subject string
	body    string
}

// AsyncSender hands emails to a fixed set of workers through a bounded
// queue so request paths never wait on delivery. When the queue is full the
// email is dropped, logged, and reported to the caller. Close drains queued
// sends.
type AsyncSender struct {
	next    Sender
	queue   chan queuedEmail
	workers *pool.Pool
	logger  *logger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSender(next Sender, workers, queueSize int, logger *logger.Logger) *AsyncSender {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	a := &AsyncSender{
		next:    next,
		queue:   make(chan queuedEmail, queueSize),
		workers: pool.New().WithMaxGoroutines(workers),
		logger:  logger,
		timeout: defaultSendTimeout,
	}
	for i := 0; i < workers; i++ {
		a.workers.Go(a.run)
	}
	return a
}

// SendGenericEmail queues the email and returns at once. Delivery errors are
// logged by the worker.
func (a *AsyncSender) SendGenericEmail(ctx context.Context, to []string, subject, body string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ierr.NewError("email sender is closed").Mark(ierr.ErrInvalidOperation)
	}

	job := queuedEmail{
		// detached so the send survives the request that triggered it
		ctx:     context.WithoutCancel(ctx),
		to:      slices.Clone(to),
		subject: subject,
		body:    body,
	}
	select {
	case a.queue <- job:
		return nil
	default:
		a.logger.WithContext(ctx).Warnw("email queue full, dropping email",
			"subject", subject,
			"recipients", len(to),
			"queue_size", cap(a.queue))
		return ierr.NewError("email queue is full").
			WithHintf("Email queue of %d is full", cap(a.queue)).
			Mark(ierr.ErrProviderUnavailable)
	}
}

func (a *AsyncSender) run() {
	for job := range a.queue {
		a.deliver(job)
	}
}

func (a *AsyncSender) deliver(job queuedEmail) {
	ctx, cancel := context.WithTimeout(job.ctx, a.timeout)
	defer cancel()
	if err := a.next.SendGenericEmail(ctx, job.to, job.subject, job.body); err != nil {
		a.logger.Errorw("async email delivery failed",
			"subject", job.subject,
			"recipients", len(job.to),
			"error", err)
	}
}

// Close stops accepting emails and waits for queued ones.
func (a *AsyncSender) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.workers.Wait()
}
