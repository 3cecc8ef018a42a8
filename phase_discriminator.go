package main

import (
	"math"
)

// fastAtan2 is a polynomial approximation of atan2 with a maximum error of
// about 0.005 radians, branch in (-pi, pi].
// For the algorithm, see https://www.dsprelated.com/showarticle/1052.php
func fastAtan2(y, x float32) float32 {
	const n1 = 0.97239411
	const n2 = -0.19194795
	const pi = float32(math.Pi)
	const pi2 = pi / 2

	if x == 0 {
		if y > 0 {
			return pi2
		}
		if y < 0 {
			return -pi2
		}
		return 0
	}

	var result float32
	ax := x
	if ax < 0 {
		ax = -ax
	}
	ay := y
	if ay < 0 {
		ay = -ay
	}
	if ax >= ay {
		if x < 0 {
			if y >= 0 {
				result = pi
			} else {
				result = -pi
			}
		}
		z := y / x
		result += (n1 + n2*z*z) * z
	} else {
		// atan(y/x) = pi/2 - atan(x/y) for |y/x| > 1.
		if y >= 0 {
			result = pi2
		} else {
			result = -pi2
		}
		z := x / y
		result -= (n1 + n2*z*z) * z
	}
	return result
}

// PhaseDiscriminator demodulates FM by measuring the phase rotation between
// consecutive I/Q samples. Output is scaled so a carrier at full frequency
// deviation produces a value of nominally +/-1.
type PhaseDiscriminator struct {
	gain    float64
	prev    complex64
	scratch []float32
}

// NewPhaseDiscriminator creates a discriminator for the given peak frequency
// deviation at the given baseband sample rate.
func NewPhaseDiscriminator(freqDev, sampleRate float64) *PhaseDiscriminator {
	// kdev = freqDev / (sampleRate/2); full deviation rotates the phase by
	// pi*kdev radians per sample.
	return &PhaseDiscriminator{
		gain: 1 / (math.Pi * freqDev / (sampleRate / 2)),
	}
}

// Process demodulates one block. The previous sample persists across blocks.
// The returned slice is owned by the discriminator and valid until the next
// call.
func (d *PhaseDiscriminator) Process(in []complex64) []float32 {
	if cap(d.scratch) < len(in) {
		d.scratch = make([]float32, len(in))
	}
	out := d.scratch[:len(in)]
	prev := d.prev
	gain := float32(d.gain)
	for i, z := range in {
		w := z * complex(real(prev), -imag(prev))
		out[i] = fastAtan2(imag(w), real(w)) * gain
		prev = z
	}
	d.prev = prev
	return out
}

// Reset clears the stored sample.
func (d *PhaseDiscriminator) Reset() {
	d.prev = 0
}
