// Package shim turns the asynchronous MQTT topic stream into paired filter
// cycles: it caches the most recent reference chunk, drives one
// [anc.Filter] cycle per error-chunk arrival, and republishes the result.
package shim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/anclab/ancd/internal/anc"
	"github.com/anclab/ancd/internal/broker"
	"github.com/anclab/ancd/internal/codec"
	"github.com/anclab/ancd/internal/metrics"
)

// Topics names the three MQTT topics the shim wires together (spec §6).
type Topics struct {
	Reference string
	Error     string
	Speaker   string
}

// DefaultTopics returns the topic names from spec §6.
func DefaultTopics() Topics {
	return Topics{
		Reference: "esp32/audio_ref",
		Error:     "esp32/audio_error",
		Speaker:   "esp32/audio_processed",
	}
}

// publisher is the subset of *broker.Client the shim depends on, so tests
// can supply a fake.
type publisher interface {
	Subscribe(topic string, handler broker.MessageHandler) error
	Publish(topic string, payload []byte) error
}

// Shim wires the codec, the adaptive filter, and the broker together. All
// DSP state is owned by the filter and touched only from the worker
// goroutine that drains inbound chunks, per spec §5's single-consumer
// discipline — the broker callbacks never call the filter directly; they
// hand chunks to a buffered channel instead.
type Shim struct {
	codec  codec.Format
	filter *anc.Filter
	pub    publisher
	topics Topics

	chunks chan rawChunk

	mu            sync.Mutex
	lastReference []float64
	chunkSize     int
}

type rawChunk struct {
	topic   string
	payload []byte
}

// New constructs a Shim. lastReference starts as CHUNK_SIZE zeros (spec §3
// / §4.3): the filter will simply gate out until the first reference chunk
// arrives.
func New(format codec.Format, filter *anc.Filter, pub publisher, topics Topics, chunkSize int) *Shim {
	return &Shim{
		codec:         format,
		filter:        filter,
		pub:           pub,
		topics:        topics,
		chunks:        make(chan rawChunk, 64),
		lastReference: make([]float64, chunkSize),
		chunkSize:     chunkSize,
	}
}

// Start subscribes to the reference and error topics and launches the
// single worker goroutine that serialises filter cycles. It returns once
// both subscriptions are established; processing continues in the
// background until ctx is cancelled.
func (s *Shim) Start(ctx context.Context) error {
	if err := s.pub.Subscribe(s.topics.Reference, s.onMessage); err != nil {
		return err
	}
	if err := s.pub.Subscribe(s.topics.Error, s.onMessage); err != nil {
		return err
	}

	go s.run(ctx)
	return nil
}

// onMessage runs on the broker's callback goroutine. It does the minimum
// possible work there — enqueue — so that decode, filtering, and publish
// always happen on the single worker goroutine.
func (s *Shim) onMessage(topic string, payload []byte) {
	select {
	case s.chunks <- rawChunk{topic: topic, payload: payload}:
	default:
		slog.Warn("shim: chunk queue full, dropping message", "topic", topic)
	}
}

// run is the single consumer of s.chunks: every reference and error chunk
// is processed here, in arrival order, with no concurrent access to the
// filter's state (spec §5).
func (s *Shim) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.chunks:
			s.handle(c)
		}
	}
}

func (s *Shim) handle(c rawChunk) {
	samples, err := s.codec.Decode(c.payload)
	if err != nil {
		slog.Warn("shim: dropping malformed chunk", "topic", c.topic, "err", err)
		metrics.FormatErrors.Inc()
		return
	}

	switch c.topic {
	case s.topics.Reference:
		s.mu.Lock()
		s.lastReference = samples
		s.mu.Unlock()

	case s.topics.Error:
		s.mu.Lock()
		ref := s.lastReference
		s.mu.Unlock()

		if len(samples) != len(ref) {
			// A programmer/configuration error: the two topics disagree on
			// chunk size. Treated as unrecoverable per spec §7.
			panic("shim: reference and error chunk sizes differ")
		}

		gatedBefore := s.filter.GatedCount()
		anomaliesBefore := s.filter.AnomalyCount()
		out := s.filter.ProcessChunk(ref, samples)
		switch {
		case s.filter.AnomalyCount() > anomaliesBefore:
			metrics.NumericAnomalies.Inc()
		case s.filter.GatedCount() > gatedBefore:
			metrics.GatedChunks.Inc()
		default:
			metrics.ChunksProcessed.Inc()
		}
		if s.filter.IsConverged() {
			metrics.Converged.Set(1)
		} else {
			metrics.Converged.Set(0)
		}

		encoded, err := s.codec.Encode(out)
		if err != nil {
			slog.Error("shim: failed to encode anti-noise chunk", "err", err)
			return
		}

		if err := s.pub.Publish(s.topics.Speaker, encoded); err != nil {
			slog.Error("shim: failed to publish anti-noise chunk", "err", err)
		}
	}
}
