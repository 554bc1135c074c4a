package eventbus

import (
	"context"
	"testing"
	"time"

	"agenthost/internal/domain"
)

func BenchmarkPublish(b *testing.B) {
	bus := newTestBus(WithBuffer(4096))
	ctx := context.Background()
	event := domain.Event{Type: domain.EventInteractionCompleted, Timestamp: time.Now()}
	bus.Subscribe(domain.EventInteractionCompleted, func(context.Context, domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkPublishFanOut(b *testing.B) {
	bus := newTestBus(WithBuffer(4096))
	ctx := context.Background()
	event := domain.Event{Type: domain.EventAgentCreated, Timestamp: time.Now()}
	for range 8 {
		bus.SubscribeAll(func(context.Context, domain.Event) {})
	}

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}
