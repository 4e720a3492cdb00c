// Package codec converts between the wire PCM byte format used on the MQTT
// topics and the normalised sample vectors the adaptive filter operates on.
//
// A [Format] is stateless and safe for concurrent use; all state needed to
// round-trip a chunk lives in the byte slice and float slice passed to
// [Format.Decode] and [Format.Encode].
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Endianness selects the byte order of the wire PCM samples.
type Endianness int

const (
	// LittleEndian orders the least-significant byte first.
	LittleEndian Endianness = iota
	// BigEndian orders the most-significant byte first.
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// FormatError reports that a wire payload could not be interpreted as a
// packed array of signed PCM samples.
type FormatError struct {
	Len            int
	BytesPerSample int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("codec: payload length %d is not a multiple of %d bytes per sample", e.Len, e.BytesPerSample)
}

// Format describes the wire representation of one PCM chunk: sample depth,
// byte order, and whether samples are normalised to the [-1, 1] range.
type Format struct {
	// BitDepth is 16 or 32.
	BitDepth int
	// Endian is the wire byte order.
	Endian Endianness
	// Normalize divides decoded integers by MaxAmplitude (and multiplies on
	// encode), producing floating point samples nominally in [-1, 1].
	Normalize bool
	// MaxAmplitude is the integer full-scale value used for normalisation,
	// typically 32767 for 16-bit PCM.
	MaxAmplitude float64
}

// BytesPerSample returns the wire width of one sample: 2 for 16-bit depth,
// 4 for 32-bit.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// Decode interprets payload as a packed array of signed PCM integers in the
// configured depth and endianness, returning one real-valued sample per
// element. It returns a *[FormatError] if len(payload) is not a multiple of
// [Format.BytesPerSample].
func (f Format) Decode(payload []byte) ([]float64, error) {
	bps := f.BytesPerSample()
	if len(payload)%bps != 0 {
		return nil, &FormatError{Len: len(payload), BytesPerSample: bps}
	}

	n := len(payload) / bps
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		raw := payload[i*bps : (i+1)*bps]
		var v int64
		switch f.BitDepth {
		case 16:
			var u uint16
			if f.Endian == BigEndian {
				u = binary.BigEndian.Uint16(raw)
			} else {
				u = binary.LittleEndian.Uint16(raw)
			}
			v = int64(int16(u))
		case 32:
			var u uint32
			if f.Endian == BigEndian {
				u = binary.BigEndian.Uint32(raw)
			} else {
				u = binary.LittleEndian.Uint32(raw)
			}
			v = int64(int32(u))
		default:
			return nil, fmt.Errorf("codec: unsupported bit depth %d", f.BitDepth)
		}

		sample := float64(v)
		if f.Normalize {
			sample /= f.MaxAmplitude
		}
		out[i] = sample
	}

	return out, nil
}

// Encode is the inverse of [Format.Decode]: it serialises samples back into
// wire bytes, rounding, clamping to the target depth's signed integer range,
// and reversing normalisation as configured.
func (f Format) Encode(samples []float64) ([]byte, error) {
	bps := f.BytesPerSample()
	out := make([]byte, len(samples)*bps)

	min, max := signedRange(f.BitDepth)

	for i, sample := range samples {
		v := sample
		if f.Normalize {
			v *= f.MaxAmplitude
		}
		v = math.Round(v)
		if v > max {
			v = max
		}
		if v < min {
			v = min
		}

		raw := out[i*bps : (i+1)*bps]
		switch f.BitDepth {
		case 16:
			u := uint16(int16(v))
			if f.Endian == BigEndian {
				binary.BigEndian.PutUint16(raw, u)
			} else {
				binary.LittleEndian.PutUint16(raw, u)
			}
		case 32:
			u := uint32(int32(v))
			if f.Endian == BigEndian {
				binary.BigEndian.PutUint32(raw, u)
			} else {
				binary.LittleEndian.PutUint32(raw, u)
			}
		default:
			return nil, fmt.Errorf("codec: unsupported bit depth %d", f.BitDepth)
		}
	}

	return out, nil
}

// signedRange returns the representable [min, max] of a signed integer of
// the given bit depth, as float64.
func signedRange(bitDepth int) (min, max float64) {
	switch bitDepth {
	case 16:
		return float64(math.MinInt16), float64(math.MaxInt16)
	case 32:
		return float64(math.MinInt32), float64(math.MaxInt32)
	default:
		return 0, 0
	}
}
