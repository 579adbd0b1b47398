package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/idx"
)

var (
	// ErrQueueFull is reported when Publish drops an event.
	ErrQueueFull = errors.New("events: queue full")

	// ErrClosed is reported for events that could not be delivered before
	// Close gave up.
	ErrClosed = errors.New("events: publisher closed")
)

// Sink is the downstream append-only log.
type Sink interface {
	Write(ctx context.Context, batch []Event) error
	Close() error
}

// PublishError carries events that were not delivered. They can be handed
// back with Requeue.
type PublishError struct {
	Events []Event
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("events: %d event(s) not delivered: %v", len(e.Events), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Options configures a Publisher. Zero values take the defaults below.
type Options struct {
	QueueSize    int           // 1024
	BatchSize    int           // 64
	MaxAttempts  int           // 5
	WriteTimeout time.Duration // 5s
	BaseBackoff  time.Duration // 100ms
	MaxBackoff   time.Duration // 5s

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = max(5*time.Second, o.BaseBackoff)
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(nil)
	}
}

// Publisher queues events and delivers them from a single worker goroutine.
type Publisher struct {
	sink Sink
	opts Options

	mu     sync.RWMutex
	closed bool
	queue  chan Event

	errs  chan *PublishError
	abort chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewPublisher starts the delivery worker. Call Close to stop it.
func NewPublisher(sink Sink, opts Options) *Publisher {
	opts.setDefaults()
	p := &Publisher{
		sink:  sink,
		opts:  opts,
		queue: make(chan Event, opts.QueueSize),
		errs:  make(chan *PublishError, 16),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev and reports whether it was accepted. It never blocks: a
// full queue drops the event. Missing IDs and timestamps are filled in.
func (p *Publisher) Publish(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.opts.Clock.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = idx.NewAt(ev.Timestamp).String()
	}
	if ev.Outcome == "" {
		ev.Outcome = OutcomeSuccess
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.report(&PublishError{Events: []Event{ev}, Err: ErrClosed})
		return false
	}

	select {
	case p.queue <- ev:
		return true
	default:
		p.opts.Metrics.EventsDropped.Inc()
		p.opts.Logger.Warn("auth event dropped", "type", ev.Type, "principal", ev.Principal)
		p.report(&PublishError{Events: []Event{ev}, Err: ErrQueueFull})
		return false
	}
}

// Errors reports undelivered events. Reports are dropped if nobody drains
// the channel.
func (p *Publisher) Errors() <-chan *PublishError { return p.errs }

// Requeue publishes the events of pe again and returns how many were
// accepted.
func (p *Publisher) Requeue(pe *PublishError) int {
	if pe == nil {
		return 0
	}
	n := 0
	for _, ev := range pe.Events {
		if p.Publish(ev) {
			n++
		}
	}
	return n
}

// Close stops accepting events and waits for the queue to drain. If ctx ends
// first, pending writes are abandoned and reported on Errors. The sink is
// closed once the worker exits.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		select {
		case <-p.done:
		case <-ctx.Done():
			close(p.abort)
			<-p.done
			p.closeErr = ctx.Err()
		}

		if err := p.sink.Close(); err != nil && p.closeErr == nil {
			p.closeErr = fmt.Errorf("events: close sink: %w", err)
		}
	})
	return p.closeErr
}

func (p *Publisher) run() {
	defer close(p.done)

	for ev := range p.queue {
		batch := []Event{ev}
	fill:
		for len(batch) < p.opts.BatchSize {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		p.deliver(batch)
	}
}

// deliver writes batch with exponential backoff between attempts.
func (p *Publisher) deliver(batch []Event) {
	backoff := p.opts.BaseBackoff

	for attempt := 1; ; attempt++ {
		err := p.write(batch)
		if err == nil {
			p.opts.Metrics.EventsPublished.Add(float64(len(batch)))
			return
		}

		aborted := p.aborted()
		if attempt >= p.opts.MaxAttempts || aborted {
			if aborted {
				err = errors.Join(ErrClosed, err)
			}
			p.opts.Metrics.EventsFailed.Add(float64(len(batch)))
			p.opts.Logger.Error("auth events not delivered",
				"count", len(batch),
				"attempts", attempt,
				"error", err,
			)
			p.report(&PublishError{Events: batch, Err: err})
			return
		}

		p.opts.Logger.Warn("auth event write failed, retrying",
			"count", len(batch),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-p.opts.Clock.After(backoff):
		case <-p.abort:
		}
		backoff = min(backoff*2, p.opts.MaxBackoff)
	}
}

func (p *Publisher) write(batch []Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.WriteTimeout)
	defer cancel()
	return p.sink.Write(ctx, batch)
}

func (p *Publisher) aborted() bool {
	select {
	case <-p.abort:
		return true
	default:
		return false
	}
}

func (p *Publisher) report(pe *PublishError) {
	select {
	case p.errs <- pe:
	default:
	}
}
