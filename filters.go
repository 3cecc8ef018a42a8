package main

import (
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

// samplesMeanRMS computes the mean and RMS of a block of real samples.
func samplesMeanRMS(samples []float32) (mean, rms float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum, sumsq float64
	for _, v := range samples {
		f := float64(v)
		sum += f
		sumsq += f * f
	}
	n := float64(len(samples))
	return sum / n, math.Sqrt(sumsq / n)
}

// complexRMS computes the RMS magnitude of a block of I/Q samples.
func complexRMS(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumsq float64
	for _, z := range samples {
		re := float64(real(z))
		im := float64(imag(z))
		sumsq += re*re + im*im
	}
	return math.Sqrt(sumsq / float64(len(samples)))
}

// firLowPassKernel designs a Hamming-windowed sinc low-pass kernel with the
// given number of taps. cutoff is expressed as a fraction of the sample rate
// (0 < cutoff < 0.5). The kernel is normalized for unity gain at DC.
func firLowPassKernel(taps int, cutoff float64) []float64 {
	if taps < 3 {
		taps = 3
	}
	kernel := make([]float64, taps)
	center := 0.5 * float64(taps-1)
	for i := range kernel {
		x := float64(i) - center
		if x == 0 {
			kernel[i] = 2 * cutoff
		} else {
			kernel[i] = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
	}
	window.Hamming(kernel)

	var gain float64
	for _, c := range kernel {
		gain += c
	}
	for i := range kernel {
		kernel[i] /= gain
	}
	return kernel
}

// FineTuner shifts the I/Q stream in frequency by multiplying with a complex
// phasor. The phase accumulator is kept in double precision and wrapped after
// every block so it never loses resolution, no matter how long the receiver
// runs.
type FineTuner struct {
	phase float64 // radians, wrapped to (-pi, pi]
	step  float64 // radians per sample
}

// NewFineTuner creates a tuner that shifts the spectrum down by freqShift Hz
// at the given sample rate.
func NewFineTuner(freqShift, sampleRate float64) *FineTuner {
	return &FineTuner{
		step: -2 * math.Pi * freqShift / sampleRate,
	}
}

// Process multiplies samples in place by exp(j*phase) with the running phase.
func (t *FineTuner) Process(samples []complex64) {
	phase := t.phase
	for i, z := range samples {
		s, c := math.Sincos(phase)
		samples[i] = z * complex(float32(c), float32(s))
		phase += t.step
	}
	// Wrap once per block; the accumulator grows by at most pi per sample, so
	// even a maximum-length block stays well within double precision.
	t.phase = math.Remainder(phase, 2*math.Pi)
}

// Reset clears the tuner phase.
func (t *FineTuner) Reset() {
	t.phase = 0
}

// DownsampleFilter applies a real-coefficient FIR low-pass to an I/Q stream
// and decimates by an integer factor. Filter history and the decimation phase
// persist across blocks so concatenated blocks produce the same output as one
// large block.
type DownsampleFilter struct {
	coeff   []float64
	hist    []complex64 // last len(coeff)-1 input samples
	decim   int
	skip    int // samples to discard before the next output
	scratch []complex64
}

// NewDownsampleFilter creates a filter with the given kernel and decimation
// factor (>= 1).
func NewDownsampleFilter(coeff []float64, decimation int) *DownsampleFilter {
	if decimation < 1 {
		decimation = 1
	}
	return &DownsampleFilter{
		coeff: coeff,
		hist:  make([]complex64, len(coeff)-1),
		decim: decimation,
	}
}

// Process filters and decimates one block. The returned slice is owned by the
// filter and valid until the next call.
func (f *DownsampleFilter) Process(in []complex64) []complex64 {
	order := len(f.hist)
	need := (len(in) + f.decim - 1) / f.decim
	if cap(f.scratch) < need {
		f.scratch = make([]complex64, need)
	}
	out := f.scratch[:0]

	for i := f.skip; i < len(in); i += f.decim {
		var accRe, accIm float64
		for k, c := range f.coeff {
			// Tap k looks back k samples from in[i].
			j := i - k
			var z complex64
			if j >= 0 {
				z = in[j]
			} else {
				z = f.hist[order+j]
			}
			accRe += c * float64(real(z))
			accIm += c * float64(imag(z))
		}
		out = append(out, complex(float32(accRe), float32(accIm)))
	}

	// Next block starts decim samples after the last output position.
	last := f.skip + (len(out)-1)*f.decim
	if len(out) > 0 {
		f.skip = last + f.decim - len(in)
	} else {
		f.skip -= len(in)
	}

	// Save tail for the next block.
	if len(in) >= order {
		copy(f.hist, in[len(in)-order:])
	} else {
		copy(f.hist, f.hist[len(in):])
		copy(f.hist[order-len(in):], in)
	}
	f.scratch = out
	return out
}

// Reset clears filter history.
func (f *DownsampleFilter) Reset() {
	for i := range f.hist {
		f.hist[i] = 0
	}
	f.skip = 0
}

// FirFilter is a plain real-valued FIR filter with cross-block history, used
// for the audio low-pass stages.
type FirFilter struct {
	coeff   []float64
	hist    []float64
	scratch []float32
}

// NewFirFilter creates a filter from the given kernel.
func NewFirFilter(coeff []float64) *FirFilter {
	return &FirFilter{
		coeff: coeff,
		hist:  make([]float64, len(coeff)-1),
	}
}

// Process filters one block. The returned slice is owned by the filter and
// valid until the next call.
func (f *FirFilter) Process(in []float32) []float32 {
	order := len(f.hist)
	if cap(f.scratch) < len(in) {
		f.scratch = make([]float32, len(in))
	}
	out := f.scratch[:len(in)]

	for i := range in {
		var acc float64
		for k, c := range f.coeff {
			j := i - k
			if j >= 0 {
				acc += c * float64(in[j])
			} else {
				acc += c * f.hist[order+j]
			}
		}
		out[i] = float32(acc)
	}

	if len(in) >= order {
		for k := 0; k < order; k++ {
			f.hist[k] = float64(in[len(in)-order+k])
		}
	} else {
		copy(f.hist, f.hist[len(in):])
		for k := 0; k < len(in); k++ {
			f.hist[order-len(in)+k] = float64(in[k])
		}
	}
	return out
}

// Reset clears filter history.
func (f *FirFilter) Reset() {
	for i := range f.hist {
		f.hist[i] = 0
	}
}

// DeemphasisFilter is the first-order IIR that undoes the transmitter's
// high-frequency pre-emphasis. One instance per audio channel.
type DeemphasisFilter struct {
	alpha float64
	y     float64
}

// NewDeemphasisFilter creates a de-emphasis filter for the given time constant
// in microseconds (50 for Europe, 75 for the Americas) at sampleRate.
func NewDeemphasisFilter(tauMicros, sampleRate float64) *DeemphasisFilter {
	return &DeemphasisFilter{
		alpha: 1 - math.Exp(-1/(tauMicros*1e-6*sampleRate)),
	}
}

// Process applies the filter in place.
func (d *DeemphasisFilter) Process(samples []float32) {
	y := d.y
	for i, x := range samples {
		y += d.alpha * (float64(x) - y)
		samples[i] = float32(y)
	}
	d.y = y
}

// Reset clears the filter state.
func (d *DeemphasisFilter) Reset() {
	d.y = 0
}
