package testutil

import (
	"context"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"sync"
)

// RecordingPublisher keeps every event it is given and fails with Err when set.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	Err    error
}

func (p *RecordingPublisher) Publish(_ context.Context, ev domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.Err
}

func (p *RecordingPublisher) Events() []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderEvent, len(p.events))
	copy(out, p.events)
	return out
}

// BlockingPublisher parks each publish until the context ends or Release is
// closed, so tests can prove callers never wait on it.
type BlockingPublisher struct {
	Release chan struct{}
}

func NewBlockingPublisher() *BlockingPublisher {
	return &BlockingPublisher{Release: make(chan struct{})}
}

func (p *BlockingPublisher) Publish(ctx context.Context, _ domain.OrderEvent) error {
	select {
	case <-p.Release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
