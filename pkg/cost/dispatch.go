package cost

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DefaultAlertQueueSize bounds the alerts waiting for an AsyncSink.
const DefaultAlertQueueSize = 64

var (
	// ErrAlertDropped is returned when the AsyncSink queue is full.
	ErrAlertDropped = errors.New("alert queue full, alert dropped")
	// ErrSinkClosed is returned by Notify after Close.
	ErrSinkClosed = errors.New("alert sink closed")
)

// AsyncSink hands alerts to a background goroutine, so Notify returns
// without waiting for the wrapped sink.
type AsyncSink struct {
	sink   AlertSink
	queue  chan Alert
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts delivering to s. A size of zero or less uses
// DefaultAlertQueueSize. Close must be called to stop the goroutine.
func NewAsyncSink(s AlertSink, size int) *AsyncSink {
	if size <= 0 {
		size = DefaultAlertQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSink{
		sink:   s,
		queue:  make(chan Alert, size),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go a.run()
	return a
}

// Notify queues the alert. It never blocks.
func (a *AsyncSink) Notify(_ context.Context, alert Alert) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- alert:
		return nil
	default:
		return ErrAlertDropped
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for alert := range a.queue {
		if a.sink == nil {
			continue
		}
		if err := a.sink.Notify(a.ctx, alert); err != nil {
			slog.Warn("Failed to deliver cost alert", "kind", alert.Kind, "error", err)
		}
	}
}

// Close stops accepting alerts and waits for the queued ones to be
// delivered. When ctx ends first, pending deliveries are cancelled.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.done
		return ctx.Err()
	}
}
