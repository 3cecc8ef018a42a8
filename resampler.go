package main

import (
	"math"
)

// resamplerTapsPerPhase is the number of prototype taps each polyphase branch
// uses per output sample.
const resamplerTapsPerPhase = 16

// bestRational approximates ratio by a fraction u/d with d bounded, using
// continued-fraction convergents. Returns the convergent with the smallest
// error among those within the bound.
func bestRational(ratio float64, maxDen int) (u, d int) {
	if ratio <= 0 {
		return 1, 1
	}
	// Convergents p/q of the continued fraction expansion.
	p0, q0 := 0, 1
	p1, q1 := 1, 0
	x := ratio
	bestU, bestD := 1, 1
	bestErr := math.Abs(ratio - 1)
	for i := 0; i < 64; i++ {
		a := int(math.Floor(x))
		p2 := a*p1 + p0
		q2 := a*q1 + q0
		if q2 > maxDen || q2 <= 0 {
			break
		}
		if q2 > 0 && p2 > 0 {
			err := math.Abs(ratio - float64(p2)/float64(q2))
			if err < bestErr {
				bestU, bestD = p2, q2
				bestErr = err
			}
			if err == 0 {
				break
			}
		}
		frac := x - math.Floor(x)
		if frac < 1e-12 {
			break
		}
		x = 1 / frac
		p0, q0 = p1, q1
		p1, q1 = p2, q2
	}
	return bestU, bestD
}

// RationalResampler converts a sample stream from one rate to another by an
// upsample-filter-downsample polyphase structure. The filter history persists
// across blocks, so block boundaries produce no edge artefacts.
type RationalResampler struct {
	u, d    int
	taps    int       // taps per polyphase branch
	filter  []float64 // prototype, len taps*u, branch q uses filter[q+k*u]
	hist    []float64 // most recent taps input samples, hist[0] newest
	acc     int       // output position accumulator, in units of 1/u input samples
	scratch []float32
}

// NewRationalResampler creates a resampler from inRate to outRate. The
// conversion ratio is approximated by a rational u/d to within 1e-6 relative
// where such a pair exists under the search bound.
func NewRationalResampler(inRate, outRate float64) *RationalResampler {
	u, d := bestRational(outRate/inRate, 1000)

	taps := resamplerTapsPerPhase
	protoLen := taps * u
	// Prototype low-pass at the upsampled rate inRate*u; cut-off at half the
	// narrower of the two stream rates, gain u to compensate the zero
	// stuffing.
	cutoff := 0.5 / float64(maxInt(u, d))
	proto := firLowPassKernel(protoLen, cutoff)
	filter := make([]float64, taps*u)
	for i := range proto {
		filter[i] = proto[i] * float64(u)
	}

	return &RationalResampler{
		u:      u,
		d:      d,
		taps:   taps,
		filter: filter,
		hist:   make([]float64, taps),
	}
}

// Ratio returns the rational conversion factors (upsample, downsample).
func (r *RationalResampler) Ratio() (u, d int) {
	return r.u, r.d
}

// Process converts one block. The returned slice is owned by the resampler
// and valid until the next call.
func (r *RationalResampler) Process(in []float32) []float32 {
	need := len(in)*r.u/r.d + 2
	if cap(r.scratch) < need {
		r.scratch = make([]float32, need)
	}
	out := r.scratch[:0]

	for _, x := range in {
		// Shift the new sample into the history window, newest first.
		copy(r.hist[1:], r.hist[:r.taps-1])
		r.hist[0] = float64(x)

		// Emit every output whose source position falls on this input.
		for r.acc < r.u {
			q := r.acc
			var acc float64
			for k := 0; k < r.taps; k++ {
				acc += r.filter[q+k*r.u] * r.hist[k]
			}
			out = append(out, float32(acc))
			r.acc += r.d
		}
		r.acc -= r.u
	}
	r.scratch = out
	return out
}

// Reset clears the filter history.
func (r *RationalResampler) Reset() {
	for i := range r.hist {
		r.hist[i] = 0
	}
	r.acc = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
