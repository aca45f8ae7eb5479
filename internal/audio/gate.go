// SPDX-License-Identifier: MIT
package audio

import "math"

// The gate keeps near-silent output from reaching the analyser, so the
// published spectrum holds its last state between phrases.

// EnableGate stops blocks below the threshold from reaching the analyser.
func (e *Engine) EnableGate() { e.gateEnabled = true }

// DisableGate lets every block reach the analyser.
func (e *Engine) DisableGate() { e.gateEnabled = false }

// SetGateThreshold sets the peak amplitude a block must exceed, clamped to
// [0, 1]. Zero passes anything but digital silence.
func (e *Engine) SetGateThreshold(threshold float64) {
	e.gateThreshold = min(max(threshold, 0), 1)
}

// GateThreshold returns the current threshold.
func (e *Engine) GateThreshold() float64 { return e.gateThreshold }

func (e *Engine) gateOpen(block []float64) bool {
	return !e.gateEnabled || peak(block) > e.gateThreshold
}

// peak returns the largest absolute sample.
func peak(block []float64) float64 {
	var m float64
	for _, x := range block {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
