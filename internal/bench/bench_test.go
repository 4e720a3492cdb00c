package bench

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anclab/ancd/internal/broker"
	"github.com/anclab/ancd/internal/codec"
)

type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]broker.MessageHandler
	published map[string]int
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]broker.MessageHandler), published: make(map[string]int)}
}

func (b *fakeBus) Subscribe(topic string, handler broker.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic]++
	if h := b.handlers[topic]; h != nil {
		go h(topic, payload)
	}
	return nil
}

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}

func TestTonePublisher_PublishesToBothTopics(t *testing.T) {
	bus := newFakeBus()
	format := codec.Format{BitDepth: 16, Endian: codec.LittleEndian, Normalize: true, MaxAmplitude: 32767}
	p := NewTonePublisher(bus, format, 16, "ref", "err")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, p.RunTone(ctx, 440, 16000))

	assert.Greater(t, bus.count("ref"), 0)
	assert.Greater(t, bus.count("err"), 0)
	assert.Equal(t, bus.count("ref"), bus.count("err"))
}
