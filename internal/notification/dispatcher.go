package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/identity-manager/pkg/domain"
)

// Sender delivers a single notification.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

var (
	errQueueFull = errors.New("notification queue full")
	errClosed    = errors.New("notification dispatcher closed")
)

// DispatcherConfig sizes a Dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

type job struct {
	to      string
	subject string
	body    string
}

// Dispatcher hands notifications to a pool of workers so request handlers
// never wait on the mail server. Send enqueues and returns immediately.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers.
func NewDispatcher(sender Sender, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sender:  sender,
		timeout: config.Timeout,
		logger:  logger,
		queue:   make(chan job, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Send queues a message. A full queue drops the message and returns an
// error wrapping domain.ErrSendFailed.
func (d *Dispatcher) Send(ctx context.Context, to, subject, body string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("%w: %w", domain.ErrSendFailed, errClosed)
	}

	select {
	case d.queue <- job{to: to, subject: subject, body: body}:
		return nil
	default:
		d.logger.WarnContext(ctx, "notification dropped", "subject", subject, "error", errQueueFull)
		return fmt.Errorf("%w: %w", domain.ErrSendFailed, errQueueFull)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, j.to, j.subject, j.body); err != nil {
		d.logger.Error("failed to deliver notification", "subject", j.subject, "error", err)
		return
	}
	d.logger.Debug("notification delivered", "subject", j.subject)
}
