// Package anc implements the adaptive-filter core of the active noise
// cancellation engine: a block-level normalised-LMS (NLMS) filter that turns
// a reference noise chunk and a residual error chunk into an anti-noise
// chunk, adapting its weights in place.
//
// [Filter] is not safe for concurrent use — per the single-threaded
// cooperative design, all chunks must be serialised onto one goroutine
// before calling [Filter.ProcessChunk].
package anc

import (
	"math"
)

const (
	// defaultSignalThreshold is the mean-absolute-value floor below which
	// either input is treated as silence and the filter gates out.
	defaultSignalThreshold = 0.1

	// defaultMaxAdaptationRate caps the effective step size under a quiet
	// reference signal.
	defaultMaxAdaptationRate = 0.1

	// defaultLeakage drives idle weights gently toward zero.
	defaultLeakage = 0.9999

	// defaultMaxWeight bounds every filter coefficient.
	defaultMaxWeight = 2.0

	// defaultMaxWeightUpdate caps the per-sample weight delta, guarding
	// against network-jitter-induced spikes.
	defaultMaxWeightUpdate = 0.1

	// defaultConvergenceThreshold is the variance below which the filter is
	// reported as converged.
	defaultConvergenceThreshold = 0.01

	// windowSize is the number of recent squared-error samples the
	// convergence check looks at.
	windowSize = 100
)

// Config holds the tuning knobs for a [Filter]. [New] replaces zero-value
// gating, step-cap, leakage, clipping and convergence fields with the
// package defaults; FilterLength, Mu and LatencySamples are used as given.
type Config struct {
	// FilterLength is the number of FIR weights (taps).
	FilterLength int

	// Mu is the nominal NLMS step size.
	Mu float64

	// LatencySamples compensates transport + processing delay by reading
	// the delayed reference this many samples behind the buffer tail.
	LatencySamples int

	// SignalThreshold is the mean-absolute-value gating floor.
	SignalThreshold float64

	// MaxAdaptationRate caps mu_eff.
	MaxAdaptationRate float64

	// Leakage multiplies the weight vector every update.
	Leakage float64

	// MaxWeight bounds |w[i]| after every chunk.
	MaxWeight float64

	// MaxWeightUpdate caps the per-sample weight delta.
	MaxWeightUpdate float64

	// ConvergenceThreshold is the error-variance floor for IsConverged.
	ConvergenceThreshold float64
}

// withDefaults fills in zero-value fields with the constants from spec §3/§4.2.
func (c Config) withDefaults() Config {
	if c.SignalThreshold == 0 {
		c.SignalThreshold = defaultSignalThreshold
	}
	if c.MaxAdaptationRate == 0 {
		c.MaxAdaptationRate = defaultMaxAdaptationRate
	}
	if c.Leakage == 0 {
		c.Leakage = defaultLeakage
	}
	if c.MaxWeight == 0 {
		c.MaxWeight = defaultMaxWeight
	}
	if c.MaxWeightUpdate == 0 {
		c.MaxWeightUpdate = defaultMaxWeightUpdate
	}
	if c.ConvergenceThreshold == 0 {
		c.ConvergenceThreshold = defaultConvergenceThreshold
	}
	return c
}

// Filter holds the FIR weight vector and delay-line state for one adaptive
// NLMS filter instance, and owns that state exclusively for the lifetime of
// the process (spec §3, FilterState).
type Filter struct {
	cfg Config

	w         []float64 // weight vector, length cfg.FilterLength
	xBuffer   []float64 // delay line, length cfg.FilterLength + cfg.LatencySamples
	errHist   []float64 // bounded mean-squared-error history
	packets   uint64
	gated     uint64
	anomalies uint64
}

// New constructs a [Filter] with zeroed weights and delay line, per spec §3
// invariants.
func New(cfg Config) *Filter {
	cfg = cfg.withDefaults()
	return &Filter{
		cfg:     cfg,
		w:       make([]float64, cfg.FilterLength),
		xBuffer: make([]float64, cfg.FilterLength+cfg.LatencySamples),
	}
}

// PacketCount returns the number of chunks that completed a full Active-state
// NLMS cycle (spec §4.2's "Active" mode; gated chunks are not counted here,
// see GatedCount).
func (f *Filter) PacketCount() uint64 {
	return f.packets
}

// GatedCount returns the number of chunks short-circuited by the
// signal-level gate (spec §4.2's "Gated" mode).
func (f *Filter) GatedCount() uint64 {
	return f.gated
}

// AnomalyCount returns the number of chunks dropped because a NaN or Inf
// value was found in an input chunk or in the adapted weight vector (spec
// §7's NumericAnomaly condition). Each such chunk triggers a
// reset-and-continue recovery rather than letting the non-finite value
// propagate into every later chunk.
func (f *Filter) AnomalyCount() uint64 {
	return f.anomalies
}

// Reset zeroes the weight vector, delay line, and error history, and resets
// the processed and gated chunk counters, keeping the configured tuning.
// AnomalyCount is not reset. Exposed for the operator control channel (internal/ctl)
// to recover from a diverged filter without restarting the process.
func (f *Filter) Reset() {
	for i := range f.w {
		f.w[i] = 0
	}
	for i := range f.xBuffer {
		f.xBuffer[i] = 0
	}
	f.errHist = nil
	f.packets = 0
	f.gated = 0
}

// Weights returns a copy of the current FIR weight vector, for inspection
// and testing. The copy does not reflect updates made by later calls to
// ProcessChunk.
func (f *Filter) Weights() []float64 {
	out := make([]float64, len(f.w))
	copy(out, f.w)
	return out
}

// IsConverged reports whether the filter has settled: at least windowSize
// error samples have been recorded and their variance is below the
// configured convergence threshold. Advisory only — it never gates
// adaptation.
func (f *Filter) IsConverged() bool {
	if len(f.errHist) < windowSize {
		return false
	}
	recent := f.errHist[len(f.errHist)-windowSize:]
	return variance(recent) < f.cfg.ConvergenceThreshold
}

// ProcessChunk ingests one paired (reference, error) chunk and returns the
// anti-noise chunk, updating internal state in place. x_ref and dError must
// be of equal, non-zero length (CHUNK_SIZE); a length mismatch is a
// programming error and panics rather than silently truncating (spec §7,
// ShapeMismatch).
//
// Gated chunks (either input's mean absolute value below SignalThreshold)
// return a zero vector and leave w, xBuffer, and the error history
// bit-for-bit unchanged.
//
// A NaN or Inf anywhere in either input, or surfacing in the adapted
// weights, is a NumericAnomaly (spec §7): rather than letting it propagate
// into tanh(NaN) on every subsequent chunk for the life of the process, it
// is handled by a reset-and-continue recovery — see recoverFromAnomaly —
// and this chunk returns a zero vector.
func (f *Filter) ProcessChunk(xRef, dError []float64) []float64 {
	if len(xRef) != len(dError) {
		panic("anc: reference and error chunks have different lengths")
	}
	n := len(xRef)

	if hasNonFinite(xRef) || hasNonFinite(dError) {
		f.recoverFromAnomaly()
		return make([]float64, n)
	}

	if meanAbs(xRef) < f.cfg.SignalThreshold || meanAbs(dError) < f.cfg.SignalThreshold {
		f.gated++
		return make([]float64, n)
	}

	xRef = removeDC(xRef)
	dError = removeDC(dError)

	f.shiftIn(xRef)

	xDelayed := f.delayedReference(n)

	signalPower := meanSquare(xDelayed)
	muEff := math.Min(f.cfg.Mu/(signalPower+1e-6), f.cfg.MaxAdaptationRate)

	y := dot(f.w, xDelayed)
	e := make([]float64, n)
	for i := range dError {
		e[i] = dError[i] - y
	}

	f.updateWeights(muEff, e, xDelayed)

	if hasNonFinite(f.w) {
		f.recoverFromAnomaly()
		return make([]float64, n)
	}

	peak := maxAbs(e)
	if peak > 1.0 {
		for i := range e {
			e[i] /= peak
		}
	}

	f.recordError(e)
	f.packets++

	out := make([]float64, n)
	for i, v := range e {
		out[i] = math.Tanh(v)
	}
	return out
}

// recoverFromAnomaly zeroes the weight vector and delay line so a NaN/Inf
// value cannot survive into a later chunk. The clip in updateWeights does
// not catch this on its own: every comparison against NaN is false under
// IEEE754, so MaxWeight/MaxWeightUpdate clipping is a no-op for it.
func (f *Filter) recoverFromAnomaly() {
	for i := range f.w {
		f.w[i] = 0
	}
	for i := range f.xBuffer {
		f.xBuffer[i] = 0
	}
	f.anomalies++
}

// shiftIn slides the delay line left by len(xRef) positions and appends the
// DC-removed reference chunk at the tail (spec §4.2 step 3).
func (f *Filter) shiftIn(xRef []float64) {
	n := len(xRef)
	copy(f.xBuffer, f.xBuffer[n:])
	copy(f.xBuffer[len(f.xBuffer)-n:], xRef)
}

// delayedReference returns the FilterLength samples of xBuffer ending
// LatencySamples positions before the tail (spec §4.2 step 4).
func (f *Filter) delayedReference(n int) []float64 {
	end := len(f.xBuffer) - f.cfg.LatencySamples
	start := end - f.cfg.FilterLength
	return f.xBuffer[start:end]
}

// updateWeights applies the leaky, clipped NLMS weight update (spec §4.2
// step 7).
func (f *Filter) updateWeights(muEff float64, e, xDelayed []float64) {
	// e is a block error but the weight update uses one scalar per spec:
	// the reference implementation computes Δ = 2·mu·e·x_delayed where e is
	// the (scalar) block error broadcast across the tap vector. Here e is
	// already the full per-sample error vector with every element equal to
	// d_error[i] - y, so we use its mean as the scalar driving the update.
	scalarE := mean(e)

	for i := range f.w {
		delta := 2 * muEff * scalarE * xDelayed[i]
		if delta > f.cfg.MaxWeightUpdate {
			delta = f.cfg.MaxWeightUpdate
		} else if delta < -f.cfg.MaxWeightUpdate {
			delta = -f.cfg.MaxWeightUpdate
		}

		w := f.cfg.Leakage*f.w[i] + delta
		if w > f.cfg.MaxWeight {
			w = f.cfg.MaxWeight
		} else if w < -f.cfg.MaxWeight {
			w = -f.cfg.MaxWeight
		}
		f.w[i] = w
	}
}

// recordError appends mean(e^2) to the bounded error history, pruning the
// oldest entries once it exceeds 2*windowSize (spec §4.2 step 9).
func (f *Filter) recordError(e []float64) {
	f.errHist = append(f.errHist, meanSquare(e))
	if len(f.errHist) > windowSize*2 {
		f.errHist = append([]float64(nil), f.errHist[len(f.errHist)-windowSize:]...)
	}
}
