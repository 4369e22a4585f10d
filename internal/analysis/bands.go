// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	applog "termviz/internal/log"
	"termviz/internal/transport"
)

// FrequencyBand is a named slice of the spectrum.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64

	energy  float64
	numBins int
}

// BandEnergyProcessor folds analyzed frames into per-band energy values
// normalized to [0, 1], the shape the terminal renderers consume.
type BandEnergyProcessor struct {
	transport transport.Transport
	bands     []*FrequencyBand
}

// NewBandEnergyProcessor builds the standard six-band split up to the
// Nyquist frequency.
func NewBandEnergyProcessor(t transport.Transport, sampleRate float64) *BandEnergyProcessor {
	return &BandEnergyProcessor{
		transport: t,
		bands: []*FrequencyBand{
			{Name: "sub", LowHz: 20, HighHz: 60},
			{Name: "bass", LowHz: 60, HighHz: 250},
			{Name: "lowMid", LowHz: 250, HighHz: 500},
			{Name: "mid", LowHz: 500, HighHz: 2000},
			{Name: "highMid", LowHz: 2000, HighHz: 4000},
			{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
		},
	}
}

// ProcessFrame folds one frame into band energies and publishes them.
func (p *BandEnergyProcessor) ProcessFrame(frame Frame) map[string]float64 {
	for _, band := range p.bands {
		band.energy = 0
		band.numBins = 0
	}

	for i, mag := range frame.Magnitudes {
		freq := frame.Frequencies[i]
		for _, band := range p.bands {
			if freq >= band.LowHz && freq < band.HighHz {
				band.energy += mag * mag
				band.numBins++
				break
			}
		}
	}

	out := make(map[string]float64, len(p.bands))
	for _, band := range p.bands {
		avg := 0.0
		if band.numBins > 0 {
			avg = band.energy / float64(band.numBins)
		}
		// Normalize against the window size so band levels are
		// comparable across FFT sizes, then clamp.
		scaled := math.Sqrt(avg) / float64(frame.FFTSize) * 50.0
		out[band.Name] = math.Min(1.0, scaled)
	}

	if p.transport != nil {
		payload := map[string]any{"type": "band_energy"}
		for name, v := range out {
			payload[name] = v
		}
		if err := p.transport.Send(payload); err != nil {
			applog.Debugf("analysis: band energy send: %v", err)
		}
	}
	return out
}
