// SPDX-License-Identifier: MIT
package dsp

import "fmt"

// Preset is a parameter bundle applied atomically to a Controls instance.
type Preset struct {
	Gain        float64
	Sensitivity float64

	AGCEnabled bool
	AGCTarget  float64
	AGCAttack  float64
	AGCRelease float64

	LimiterEnabled   bool
	LimiterThreshold float64

	CompressorEnabled   bool
	CompressorRatio     float64
	CompressorThreshold float64

	GateEnabled   bool
	GateThreshold float64
}

// presets are tuned for the listening situations the visualizer runs in.
var presets = map[string]Preset{
	"live_input": {
		Gain: 1.2, Sensitivity: 1.5,
		AGCEnabled: true, AGCTarget: 0.7, AGCAttack: 0.05, AGCRelease: 0.2,
		LimiterEnabled: true, LimiterThreshold: 0.9,
		CompressorEnabled: true, CompressorRatio: 3, CompressorThreshold: 0.75,
		GateEnabled: true, GateThreshold: 0.005,
	},
	"music_file": {
		Gain: 1.0, Sensitivity: 1.0,
		LimiterEnabled: true, LimiterThreshold: 0.95,
	},
	"quiet_environment": {
		Gain: 2.0, Sensitivity: 2.0,
		AGCEnabled: true, AGCTarget: 0.8, AGCAttack: 0.02, AGCRelease: 0.5,
		LimiterEnabled: true, LimiterThreshold: 0.85,
		CompressorEnabled: true, CompressorRatio: 6, CompressorThreshold: 0.6,
		GateEnabled: true, GateThreshold: 0.002,
	},
	"loud_environment": {
		Gain: 0.7, Sensitivity: 0.8,
		AGCEnabled: true, AGCTarget: 0.6, AGCAttack: 0.1, AGCRelease: 0.1,
		LimiterEnabled: true, LimiterThreshold: 0.8,
		CompressorEnabled: true, CompressorRatio: 8, CompressorThreshold: 0.5,
	},
	"disabled": {
		Gain: 1.0, Sensitivity: 1.0,
	},
}

// PresetNames lists the available preset names.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// ApplyPreset applies the named bundle: gain, sensitivity and every
// stage's enable flag are replaced. Disabled stages keep their previous thresholds; only the enable flags
// and the bundle's own values change.
func (c *Controls) ApplyPreset(name string) error {
	p, ok := presets[name]
	if !ok {
		return fmt.Errorf("%w: unknown preset %q", ErrInvalidArgument, name)
	}

	c.mu.Lock()
	c.gain = p.Gain
	c.sensitivity = p.Sensitivity

	c.agcEnabled = p.AGCEnabled
	if p.AGCEnabled {
		c.agcTarget = p.AGCTarget
		c.agcAttack = p.AGCAttack
		c.agcRelease = p.AGCRelease
	}

	c.limiterEnabled = p.LimiterEnabled
	if p.LimiterEnabled {
		c.limiterThreshold = p.LimiterThreshold
	}

	c.compEnabled = p.CompressorEnabled
	if p.CompressorEnabled {
		c.compRatio = p.CompressorRatio
		c.compThreshold = p.CompressorThreshold
	}

	c.gateEnabled = p.GateEnabled
	if p.GateEnabled {
		c.gateThreshold = p.GateThreshold
	}

	callbacks := make([]func(float64), len(c.gainCallbacks))
	copy(callbacks, c.gainCallbacks)
	gain := c.gain
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(gain)
	}
	return nil
}
