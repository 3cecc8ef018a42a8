package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomIQBlock(r *rand.Rand, n int) []complex64 {
	block := make([]complex64, n)
	for i := range block {
		block[i] = complex(float32(r.Float64()*2-1), float32(r.Float64()*2-1))
	}
	return block
}

func TestFirLowPassKernelUnityDCGain(t *testing.T) {
	for _, taps := range []int{15, 33, 101} {
		kernel := firLowPassKernel(taps, 0.1)
		var sum float64
		for _, c := range kernel {
			sum += c
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "taps=%d", taps)
	}
}

func TestFineTunerPhaseContinuity(t *testing.T) {
	// Concatenating the mixer output of two consecutive blocks must equal
	// the mixer output of their concatenation.
	r := rand.New(rand.NewSource(1))
	input := randomIQBlock(r, 8192)

	whole := make([]complex64, len(input))
	copy(whole, input)
	split := make([]complex64, len(input))
	copy(split, input)

	a := NewFineTuner(-250000, 1200000)
	a.Process(whole)

	b := NewFineTuner(-250000, 1200000)
	b.Process(split[:4096])
	b.Process(split[4096:])

	for i := range whole {
		assert.InDelta(t, real(whole[i]), real(split[i]), 1e-5, "re %d", i)
		assert.InDelta(t, imag(whole[i]), imag(split[i]), 1e-5, "im %d", i)
	}
}

func TestFineTunerShiftsTone(t *testing.T) {
	// A tone at +10 kHz mixed down by 10 kHz becomes DC.
	const rate = 1200000.0
	const freq = 10000.0
	n := 12000
	input := make([]complex64, n)
	for i := range input {
		phi := 2 * math.Pi * freq * float64(i) / rate
		s, c := math.Sincos(phi)
		input[i] = complex(float32(c), float32(s))
	}

	tuner := NewFineTuner(freq, rate)
	tuner.Process(input)

	for i, z := range input {
		assert.InDelta(t, 1.0, float64(real(z)), 1e-3, "re %d", i)
		assert.InDelta(t, 0.0, float64(imag(z)), 1e-3, "im %d", i)
	}
}

func TestDownsampleFilterBlockBoundary(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	input := randomIQBlock(r, 16384)
	kernel := firLowPassKernel(33, 0.05)

	whole := NewDownsampleFilter(kernel, 4)
	wantAll := append([]complex64(nil), whole.Process(input)...)

	split := NewDownsampleFilter(kernel, 4)
	var gotAll []complex64
	for _, chunk := range [][]complex64{input[:4096], input[4096:6144], input[6144:]} {
		gotAll = append(gotAll, split.Process(chunk)...)
	}

	require.Equal(t, len(wantAll), len(gotAll))
	for i := range wantAll {
		assert.InDelta(t, real(wantAll[i]), real(gotAll[i]), 1e-6, "re %d", i)
		assert.InDelta(t, imag(wantAll[i]), imag(gotAll[i]), 1e-6, "im %d", i)
	}
}

func TestDownsampleFilterRate(t *testing.T) {
	kernel := firLowPassKernel(33, 0.05)
	f := NewDownsampleFilter(kernel, 5)
	out := f.Process(make([]complex64, 1000))
	assert.Equal(t, 200, len(out))
}

func TestFirFilterBlockBoundary(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	input := make([]float32, 8192)
	for i := range input {
		input[i] = float32(r.Float64()*2 - 1)
	}
	kernel := firLowPassKernel(101, 0.06)

	whole := NewFirFilter(kernel)
	want := append([]float32(nil), whole.Process(input)...)

	split := NewFirFilter(kernel)
	var got []float32
	got = append(got, split.Process(input[:1000])...)
	got = append(got, split.Process(input[1000:5000])...)
	got = append(got, split.Process(input[5000:])...)

	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "sample %d", i)
	}
}

func TestDeemphasisFilterResponse(t *testing.T) {
	// The 50 us de-emphasis corner is at 1/(2*pi*tau) = 3183 Hz; a tone well
	// below the corner passes nearly unattenuated, one well above is
	// strongly attenuated.
	const rate = 240000.0

	measure := func(freq float64) float64 {
		d := NewDeemphasisFilter(50, rate)
		n := 48000
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / rate))
		}
		d.Process(buf)
		var peak float64
		for _, v := range buf[n/2:] {
			if a := math.Abs(float64(v)); a > peak {
				peak = a
			}
		}
		return peak
	}

	low := measure(100)
	high := measure(15000)
	assert.Greater(t, low, 0.99)
	assert.Less(t, high, 0.25)
}

func TestFastAtan2MatchesMathAtan2(t *testing.T) {
	for _, v := range []struct{ y, x float64 }{
		{0, 1}, {1, 0}, {-1, 0}, {0.5, 0.5}, {-0.3, 0.7},
		{0.9, -0.2}, {-0.6, -0.6}, {1e-3, -1}, {0, 0},
	} {
		got := float64(fastAtan2(float32(v.y), float32(v.x)))
		if v.x == 0 && v.y == 0 {
			assert.Equal(t, 0.0, got)
			continue
		}
		want := math.Atan2(v.y, v.x)
		assert.InDelta(t, want, got, 0.005, "atan2(%v, %v)", v.y, v.x)
	}
}

func TestPhaseDiscriminatorConstantOffset(t *testing.T) {
	// A tone offset from the carrier produces a constant discriminator
	// output proportional to the offset.
	const rate = 240000.0
	const freqDev = 75000.0
	const offset = 37500.0 // half deviation

	disc := NewPhaseDiscriminator(freqDev, rate)
	n := 4096
	input := make([]complex64, n)
	for i := range input {
		phi := 2 * math.Pi * offset * float64(i) / rate
		s, c := math.Sincos(phi)
		input[i] = complex(float32(c), float32(s))
	}

	out := disc.Process(input)
	for i := 1; i < len(out); i++ {
		assert.InDelta(t, 0.5, float64(out[i]), 5e-3, "sample %d", i)
	}
}
