// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"time"

	applog "termviz/internal/log"
	"termviz/internal/transport"
)

// BeatDetector flags energy onsets: a batch whose RMS jumps past both an
// absolute threshold and a ratio against the previous batch. It emits a
// per-batch event, not tempo.
type BeatDetector struct {
	threshold      float64
	minEnergyRatio float64
	lastEnergy     float64
	transport      transport.Transport
}

// NewBeatDetector creates an onset detector publishing to t.
func NewBeatDetector(threshold, minEnergyRatio float64, t transport.Transport) *BeatDetector {
	return &BeatDetector{
		threshold:      threshold,
		minEnergyRatio: minEnergyRatio,
		transport:      t,
	}
}

// Process inspects one batch of control-chain output. It returns whether
// an onset fired.
func (bd *BeatDetector) Process(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	energy := math.Sqrt(sum / float64(len(samples)))

	fired := energy > bd.threshold &&
		(bd.lastEnergy == 0 || energy/bd.lastEnergy > bd.minEnergyRatio)
	bd.lastEnergy = energy

	if fired && bd.transport != nil {
		err := bd.transport.Send(map[string]any{
			"type":      "event",
			"name":      "beat",
			"energy":    energy,
			"timestamp": time.Now().UnixMilli(),
		})
		if err != nil {
			applog.Debugf("analysis: beat event send: %v", err)
		}
	}
	return fired
}
