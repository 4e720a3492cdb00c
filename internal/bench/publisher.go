// Package bench provides a standalone diagnostic harness for exercising a
// running ANC daemon without real ESP32 sensor hardware: a Publisher that
// streams live microphone audio (or, with no capture device, a generated
// tone) onto the reference/error topics, and a Subscriber that plays the
// anti-noise topic back over the local speaker.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/anclab/ancd/internal/codec"
)

// publisher is the subset of *broker.Client a Publisher needs.
type publisher interface {
	Publish(topic string, payload []byte) error
}

// Publisher captures audio in fixed-size chunks and republishes it, encoded,
// to the reference and error topics — standing in for the sensor node's two
// microphones during local testing.
type Publisher struct {
	pub       publisher
	format    codec.Format
	chunkSize int
	refTopic  string
	errTopic  string

	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewPublisher opens a capture device at the configured sample rate. deviceName
// filters by substring match against available capture device names; an
// empty string selects the system default device.
func NewPublisher(pub publisher, format codec.Format, chunkSize, sampleRate int, refTopic, errTopic, deviceName string) (*Publisher, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("bench: init audio context: %w", err)
	}

	p := &Publisher{
		pub:       pub,
		format:    format,
		chunkSize: chunkSize,
		refTopic:  refTopic,
		errTopic:  errTopic,
		ctx:       malgoCtx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	if deviceName != "" {
		devices, err := malgoCtx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("bench: list capture devices: %w", err)
		}
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name()), strings.ToLower(deviceName)) {
				deviceConfig.Capture.DeviceID = d.ID.Pointer()
				break
			}
		}
	}

	var buf []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			samples := bytesToFloat32(in, int(frameCount))
			buf = append(buf, samples...)
			for len(buf) >= chunkSize {
				p.publishChunk(buf[:chunkSize])
				buf = buf[chunkSize:]
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("bench: init capture device: %w", err)
	}
	p.device = device

	return p, nil
}

// NewTonePublisher builds a Publisher that needs no audio hardware: paired
// with RunTone, it publishes a generated sine wave to both the reference
// and error topics every chunk duration, useful for exercising convergence
// on CI or a headless box.
func NewTonePublisher(pub publisher, format codec.Format, chunkSize int, refTopic, errTopic string) *Publisher {
	return &Publisher{
		pub:       pub,
		format:    format,
		chunkSize: chunkSize,
		refTopic:  refTopic,
		errTopic:  errTopic,
	}
}

// RunTone publishes a synthetic sine wave until ctx is cancelled, one chunk
// every chunkSize/sampleRate seconds, simulating a steady reference noise
// source and its (here, identical) echo at the error microphone.
func (p *Publisher) RunTone(ctx context.Context, freqHz float64, sampleRate int) error {
	period := time.Duration(float64(p.chunkSize) / float64(sampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * freqHz / float64(sampleRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			chunk := make([]float64, p.chunkSize)
			for i := range chunk {
				chunk[i] = 0.5 * math.Sin(phase)
				phase += step
			}
			p.publishFloatChunk(chunk)
		}
	}
}

// Start begins live microphone capture; publishing happens from the
// malgo callback goroutine via publishChunk.
func (p *Publisher) Start() error {
	if p.device == nil {
		return fmt.Errorf("bench: publisher has no capture device (use RunTone instead)")
	}
	return p.device.Start()
}

// Close releases the capture device and audio context, if any.
func (p *Publisher) Close() {
	if p.device != nil {
		p.device.Uninit()
	}
	if p.ctx != nil {
		p.ctx.Uninit()
		_ = p.ctx.Free()
	}
}

func (p *Publisher) publishChunk(samples []float32) {
	f64 := make([]float64, len(samples))
	for i, v := range samples {
		f64[i] = float64(v)
	}
	p.publishFloatChunk(f64)
}

func (p *Publisher) publishFloatChunk(samples []float64) {
	encoded, err := p.format.Encode(samples)
	if err != nil {
		slog.Warn("bench: failed to encode chunk", "err", err)
		return
	}
	if err := p.pub.Publish(p.refTopic, encoded); err != nil {
		slog.Warn("bench: publish reference failed", "err", err)
	}
	if err := p.pub.Publish(p.errTopic, encoded); err != nil {
		slog.Warn("bench: publish error failed", "err", err)
	}
}

func bytesToFloat32(b []byte, frameCount int) []float32 {
	out := make([]float32, frameCount)
	for i := 0; i < frameCount; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
