package bench

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/anclab/ancd/internal/broker"
	"github.com/anclab/ancd/internal/codec"
)

// subscriber is the subset of *broker.Client a Subscriber needs.
type subscriber interface {
	Subscribe(topic string, handler broker.MessageHandler) error
}

// Subscriber plays the anti-noise topic back over the local speaker, so a
// human tester can listen for audible cancellation.
type Subscriber struct {
	format     codec.Format
	sampleRate int

	mu      sync.Mutex
	pending [][2]float64
}

// NewSubscriber subscribes to topic on sub and starts the speaker, decoding
// every incoming chunk and queuing it for playback.
func NewSubscriber(sub subscriber, format codec.Format, sampleRate int, topic string) (*Subscriber, error) {
	s := &Subscriber{format: format, sampleRate: sampleRate}

	if err := speaker.Init(beep.SampleRate(sampleRate), sampleRate/10); err != nil {
		return nil, err
	}

	if err := sub.Subscribe(topic, s.onMessage); err != nil {
		return nil, err
	}

	speaker.Play(beep.StreamerFunc(s.stream))
	return s, nil
}

func (s *Subscriber) onMessage(_ string, payload []byte) {
	samples, err := s.format.Decode(payload)
	if err != nil {
		slog.Warn("bench: dropping malformed playback chunk", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range samples {
		s.pending = append(s.pending, [2]float64{v, v})
	}
}

// stream implements beep.Streamer, draining queued samples as the speaker
// pulls them; it never blocks, emitting silence when the queue is empty so
// playback keeps running between chunk arrivals.
func (s *Subscriber) stream(samples [][2]float64) (n int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = copy(samples, s.pending)
	s.pending = s.pending[n:]

	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{0, 0}
	}
	return len(samples), true
}

// QueueDepth reports how many pending samples await playback, for tests and
// diagnostics.
func (s *Subscriber) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// drainTimeout bounds how long Close waits for queued audio to finish.
const drainTimeout = 2 * time.Second

// Close waits up to drainTimeout for queued audio to finish playing, then
// clears the speaker.
func (s *Subscriber) Close() {
	deadline := time.Now().Add(drainTimeout)
	for s.QueueDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	speaker.Clear()
}
