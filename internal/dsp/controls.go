// SPDX-License-Identifier: MIT
/*
Package dsp implements the control chain applied between the main audio
buffer and the analyzer: manual gain, noise gate, compressor, automatic
gain control, peak limiter, and sensitivity, in that fixed order.

Parameters are guarded by a mutex; the per-batch envelope state is only
ever touched from the analyzer thread, so Process holds the lock for the
whole batch and fires level callbacks after releasing it.
*/
package dsp

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidArgument marks a parameter outside its documented range.
var ErrInvalidArgument = errors.New("invalid argument")

// LevelEvent carries a post-chain meter reading to level callbacks.
type LevelEvent struct {
	Peak      float64
	RMS       float64
	Timestamp time.Time
}

// ChainStats snapshots the running meters and stage counters.
type ChainStats struct {
	ProcessedSamples        uint64
	PeakLevel               float64 // max-held
	RMSLevel                float64 // EMA, alpha 0.1
	GateOpen                bool
	CompressorGainReduction float64
	GainReductions          uint64
	LimiterGainReduction    float64
	ClippedSamples          uint64
	AGCEnvelope             float64
	AGCGain                 float64
}

// rmsAlpha smooths the running RMS meter.
const rmsAlpha = 0.1

// Controls is one instance of the DSP chain. All state is per-instance;
// there is no package-level audio state.
type Controls struct {
	mu sync.Mutex

	gain        float64
	sensitivity float64

	gateEnabled   bool
	gateThreshold float64
	gateOpen      bool

	compEnabled    bool
	compThreshold  float64
	compRatio      float64
	compReduction  float64
	gainReductions uint64

	agcEnabled  bool
	agcTarget   float64
	agcAttack   float64
	agcRelease  float64
	agcEnvelope float64
	agcGain     float64

	limiterEnabled   bool
	limiterThreshold float64
	limiterReduction float64
	clippedSamples   uint64

	processedSamples uint64
	peakLevel        float64
	rmsLevel         float64

	levelCallbacks []func(LevelEvent)
	gainCallbacks  []func(float64)
}

// NewControls returns a chain with every stage at its neutral setting.
func NewControls() *Controls {
	return &Controls{
		gain:             1.0,
		sensitivity:      1.0,
		gateThreshold:    0.01,
		compThreshold:    0.8,
		compRatio:        4.0,
		agcTarget:        0.7,
		agcAttack:        0.05,
		agcRelease:       0.2,
		agcGain:          1.0,
		limiterThreshold: 0.95,
		gateOpen:         true,
	}
}

// Process runs the chain over samples and returns a new slice of equal
// length. The input is never mutated.
func (c *Controls) Process(samples []float32) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	if len(out) == 0 {
		return out
	}

	c.mu.Lock()

	// 1. Manual gain.
	if c.gain != 1.0 {
		scale(out, c.gain)
	}

	// 2. Noise gate: attenuate the whole batch when its RMS is under the
	// threshold rather than hard-muting, so the visual decays instead of
	// snapping off.
	if c.gateEnabled {
		if rms(out) < c.gateThreshold {
			scale(out, 0.01)
			c.gateOpen = false
		} else {
			c.gateOpen = true
		}
	}

	// 3. Compressor: hard knee on the batch peak.
	if c.compEnabled {
		if p := peak(out); p > c.compThreshold {
			reduction := (p - c.compThreshold) / c.compRatio
			c.compReduction = reduction
			c.gainReductions++
			scale(out, 1.0-reduction)
		} else {
			c.compReduction = 0
		}
	}

	// 4. AGC: envelope follower steering a smoothed makeup gain.
	if c.agcEnabled {
		r := rms(out)
		if r > c.agcEnvelope {
			c.agcEnvelope += c.agcAttack * (r - c.agcEnvelope)
		} else {
			c.agcEnvelope += c.agcRelease * (r - c.agcEnvelope)
		}
		if c.agcEnvelope > 0.001 {
			desired := c.agcTarget / c.agcEnvelope
			c.agcGain += 0.1 * (desired - c.agcGain)
			if c.agcGain < 0.1 {
				c.agcGain = 0.1
			} else if c.agcGain > 10.0 {
				c.agcGain = 10.0
			}
		}
		scale(out, c.agcGain)
	}

	// 5. Limiter: cap the batch peak at the threshold.
	if c.limiterEnabled {
		if p := peak(out); p > c.limiterThreshold {
			c.limiterReduction = p - c.limiterThreshold
			scale(out, c.limiterThreshold/p)
		} else {
			c.limiterReduction = 0
		}
		for _, s := range out {
			if s > 1.0 || s < -1.0 {
				c.clippedSamples++
			}
		}
	}

	// 6. Sensitivity.
	if c.sensitivity != 1.0 {
		scale(out, c.sensitivity)
	}

	// Running statistics.
	batchPeak := peak(out)
	batchRMS := rms(out)
	c.processedSamples += uint64(len(out))
	if batchPeak > c.peakLevel {
		c.peakLevel = batchPeak
	}
	c.rmsLevel += rmsAlpha * (batchRMS - c.rmsLevel)

	callbacks := make([]func(LevelEvent), len(c.levelCallbacks))
	copy(callbacks, c.levelCallbacks)
	c.mu.Unlock()

	event := LevelEvent{Peak: batchPeak, RMS: batchRMS, Timestamp: time.Now()}
	for _, cb := range callbacks {
		cb(event)
	}
	return out
}

func scale(samples []float32, factor float64) {
	f := float32(factor)
	for i := range samples {
		samples[i] *= f
	}
}

func peak(samples []float32) float64 {
	var p float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > p {
			p = s
		}
	}
	return float64(p)
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SetGain sets the manual gain in [0, 10] and notifies gain callbacks.
func (c *Controls) SetGain(gain float64) error {
	if gain < 0 || gain > 10 {
		return fmt.Errorf("%w: gain %.2f outside [0, 10]", ErrInvalidArgument, gain)
	}
	c.mu.Lock()
	c.gain = gain
	callbacks := make([]func(float64), len(c.gainCallbacks))
	copy(callbacks, c.gainCallbacks)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb(gain)
	}
	return nil
}

// Gain returns the manual gain.
func (c *Controls) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// SetSensitivity sets the final scale in [0.1, 5.0].
func (c *Controls) SetSensitivity(s float64) error {
	if s < 0.1 || s > 5.0 {
		return fmt.Errorf("%w: sensitivity %.2f outside [0.1, 5.0]", ErrInvalidArgument, s)
	}
	c.mu.Lock()
	c.sensitivity = s
	c.mu.Unlock()
	return nil
}

// Sensitivity returns the final scale.
func (c *Controls) Sensitivity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensitivity
}

// SetNoiseGate configures the gate stage.
func (c *Controls) SetNoiseGate(enabled bool, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: gate threshold %.4f outside [0, 1]", ErrInvalidArgument, threshold)
	}
	c.mu.Lock()
	c.gateEnabled = enabled
	c.gateThreshold = threshold
	c.mu.Unlock()
	return nil
}

// SetCompressor configures the compressor stage.
func (c *Controls) SetCompressor(enabled bool, ratio, threshold float64) error {
	if ratio < 1 {
		return fmt.Errorf("%w: compressor ratio %.2f below 1", ErrInvalidArgument, ratio)
	}
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("%w: compressor threshold %.2f outside (0, 1]", ErrInvalidArgument, threshold)
	}
	c.mu.Lock()
	c.compEnabled = enabled
	c.compRatio = ratio
	c.compThreshold = threshold
	c.mu.Unlock()
	return nil
}

// SetAGC configures the automatic gain control stage.
func (c *Controls) SetAGC(enabled bool, target, attack, release float64) error {
	if target <= 0 || target > 1 {
		return fmt.Errorf("%w: AGC target %.2f outside (0, 1]", ErrInvalidArgument, target)
	}
	if attack <= 0 || attack > 1 || release <= 0 || release > 1 {
		return fmt.Errorf("%w: AGC attack/release outside (0, 1]", ErrInvalidArgument)
	}
	c.mu.Lock()
	c.agcEnabled = enabled
	c.agcTarget = target
	c.agcAttack = attack
	c.agcRelease = release
	c.mu.Unlock()
	return nil
}

// SetLimiter configures the limiter stage.
func (c *Controls) SetLimiter(enabled bool, threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("%w: limiter threshold %.2f outside (0, 1]", ErrInvalidArgument, threshold)
	}
	c.mu.Lock()
	c.limiterEnabled = enabled
	c.limiterThreshold = threshold
	c.mu.Unlock()
	return nil
}

// OnLevel registers a per-batch meter callback.
func (c *Controls) OnLevel(fn func(LevelEvent)) {
	c.mu.Lock()
	c.levelCallbacks = append(c.levelCallbacks, fn)
	c.mu.Unlock()
}

// OnGainChange registers a gain-change callback.
func (c *Controls) OnGainChange(fn func(float64)) {
	c.mu.Lock()
	c.gainCallbacks = append(c.gainCallbacks, fn)
	c.mu.Unlock()
}

// Stats snapshots the meters and stage state.
func (c *Controls) Stats() ChainStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChainStats{
		ProcessedSamples:        c.processedSamples,
		PeakLevel:               c.peakLevel,
		RMSLevel:                c.rmsLevel,
		GateOpen:                c.gateOpen,
		CompressorGainReduction: c.compReduction,
		GainReductions:          c.gainReductions,
		LimiterGainReduction:    c.limiterReduction,
		ClippedSamples:          c.clippedSamples,
		AGCEnvelope:             c.agcEnvelope,
		AGCGain:                 c.agcGain,
	}
}
