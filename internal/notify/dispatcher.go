package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-router/internal/observability"
)

// Options tunes the dispatcher worker pool.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

const resetTimeout = 2 * time.Second

type job struct {
	userID int
	n      Notification
}

// Dispatcher hands notifications for users without a live connection to a
// Pusher on a bounded pool of workers. Failures never reach the caller.
type Dispatcher struct {
	pusher    Pusher
	debouncer Debouncer
	opts      Options
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Start must be called before
// notifications are processed.
func NewDispatcher(pusher Pusher, debouncer Debouncer, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		pusher:    pusher,
		debouncer: debouncer,
		opts:      opts,
		logger:    logger.Named("notify"),
		queue:     make(chan job, opts.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx does not abort queued pushes;
// each one still gets its own Timeout so Stop can drain the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(ctx, j)
			}
		}()
	}
}

// Stop stops accepting notifications and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Notify queues a notification for userID without blocking.
func (d *Dispatcher) Notify(userID int, n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- job{userID: userID, n: n}:
	default:
		observability.IncNotification("dropped")
		d.logger.Warn("notification queue full, dropping", zap.Int("user_id", userID), zap.String("room", string(n.Room)))
	}
}

// Reset clears the user's debounce windows, typically on reconnect.
func (d *Dispatcher) Reset(ctx context.Context, userID int) {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()
	if err := d.debouncer.Reset(ctx, userID); err != nil {
		d.logger.Warn("debounce reset failed", zap.Int("user_id", userID), zap.Error(err))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	allowed, err := d.debouncer.Allow(ctx, j.userID, j.n.Room)
	if err != nil {
		d.logger.Warn("debounce check failed, sending anyway", zap.Int("user_id", j.userID), zap.Error(err))
		allowed = true
	}
	if !allowed {
		observability.IncNotification("suppressed")
		d.logger.Debug("notification suppressed", zap.Int("user_id", j.userID), zap.String("room", string(j.n.Room)))
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	if err := d.pusher.Push(pushCtx, j.userID, j.n.Normalize()); err != nil {
		observability.IncNotification("failed")
		d.logger.Warn("push notification failed", zap.Int("user_id", j.userID), zap.Error(err))
		return
	}
	observability.IncNotification("sent")
	d.logger.Debug("push notification sent", zap.Int("user_id", j.userID), zap.String("room", string(j.n.Room)))
}
