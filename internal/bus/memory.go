// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/missionops/voicesync/internal/log"
	"github.com/missionops/voicesync/internal/metrics"
)

// MemoryBus is an in-memory pub/sub used for unit tests and local runs.
// It is not durable and provides at-least-once in-process delivery while
// publish contexts remain active.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Event)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, evt Event) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	// Sends happen under the read lock: Subscription.Close takes the write
	// lock before closing its channel, so a close can never land mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- evt:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.RecordBusPublish(topic, "dropped")
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				log.L().Warn().
					Str(log.FieldTopic, topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	metrics.RecordBusPublish(topic, "success")
	return nil
}

// Subscribe registers a consumer for topic. Intended for tests.
func (b *MemoryBus) Subscribe(topic string) *Subscription {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &Subscription{b: b, topic: topic, ch: ch}
}

// Close detaches all subscriptions. Subscriber channels are closed by their
// own Subscription.Close, not here, so the two never race on a double close.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]chan Event)
	return nil
}

// Subscription is one consumer channel on a MemoryBus topic.
type Subscription struct {
	b     *MemoryBus
	topic string
	ch    chan Event
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	close(s.ch)
	return nil
}

var _ Bus = (*MemoryBus)(nil)
