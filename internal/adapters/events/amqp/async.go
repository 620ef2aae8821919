package amqp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/mailpilot/internal/ports"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueueSize = 256

	sendTimeout = 5 * time.Second
)

var (
	ErrQueueFull       = errors.New("decision queue full")
	ErrPublisherClosed = errors.New("decision publisher closed")
)

// AsyncPublisher queues decisions in memory and hands them to sink from one
// goroutine. Publish never waits on the broker.
type AsyncPublisher struct {
	sink  ports.DecisionPublisher
	queue chan ports.DecisionEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ ports.DecisionPublisher = (*AsyncPublisher)(nil)

func NewAsync(sink ports.DecisionPublisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}

	p := &AsyncPublisher{
		sink:  sink,
		queue: make(chan ports.DecisionEvent, size),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues event. It returns ErrQueueFull instead of blocking when the
// broker has fallen behind.
func (p *AsyncPublisher) Publish(_ context.Context, event ports.DecisionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := p.sink.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("publish decision")
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queued ones to be sent.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}
