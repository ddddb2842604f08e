package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hotel-rate-shadow/internal/metrics"
)

var (
	ErrQueueFull   = errors.New("alert queue is full")
	ErrQueueClosed = errors.New("alert queue is closed")
)

// LogNotifier writes events to the structured log. It is the fallback channel
// when nothing else is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the event at warn level.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	e := n.logger.Warn().Str("event", string(event.Type)).Time("at", event.Time)
	for _, k := range event.SortedKeys() {
		e = e.Str(k, event.Fields[k])
	}
	e.Msg(event.Subject)
	return nil
}

// MultiNotifier fans out to every channel and joins their errors.
type MultiNotifier []Notifier

// Notify delivers to each channel in turn.
func (m MultiNotifier) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type queued struct {
	ctx   context.Context
	event Event
}

// Dispatcher delivers events on a background goroutine. Notify never blocks:
// when the queue is full the event is dropped and ErrQueueFull returned.
type Dispatcher struct {
	next    Notifier
	timeout time.Duration
	logger  zerolog.Logger

	items  chan queued
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher in front of next.
func NewDispatcher(next Notifier, queueSize int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		next:    next,
		timeout: timeout,
		logger:  logger.With().Str("component", "alert_dispatcher").Logger(),
		items:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
	go d.process()
	return d
}

// Notify enqueues the event. Delivery is detached from ctx cancellation so a
// finished request does not abort its own alert.
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}

	select {
	case d.items <- queued{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		metrics.NotificationsTotal.WithLabelValues(string(event.Type), "dropped").Inc()
		d.logger.Warn().Str("event", string(event.Type)).Msg("alert queue full, dropping event")
		return ErrQueueFull
	}
}

// Len reports queued events.
func (d *Dispatcher) Len() int {
	return len(d.items)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.items)
	d.mu.Unlock()

	if pending := d.Len(); pending > 0 {
		d.logger.Info().Int("pending", pending).Msg("draining queued alerts")
	}

	<-d.done
	return nil
}

func (d *Dispatcher) process() {
	defer close(d.done)
	for item := range d.items {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item queued) {
	ctx, cancel := context.WithTimeout(item.ctx, d.timeout)
	defer cancel()

	if err := d.next.Notify(ctx, item.event); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(item.event.Type), "failed").Inc()
		d.logger.Error().Err(err).Str("event", string(item.event.Type)).Msg("alert delivery failed")
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(item.event.Type), "sent").Inc()
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
	_ Notifier = (*Dispatcher)(nil)
)
