package main

import (
	"log"
	"math"
)

// Default decoder parameters for FM broadcast.
const (
	defaultDeemphasis   = 50.0     // microseconds
	defaultBandwidthIF  = 100000.0 // Hz
	defaultFreqDev      = 75000.0  // Hz
	defaultBandwidthPCM = 15000.0  // Hz
	pllLoopFreqHz       = 100.0
)

// audioLevelSmoothing is the per-block exponential smoothing factor applied
// to the audio RMS.
const audioLevelSmoothing = 0.05

// FmDecoderConfig is the frozen configuration of a decoder. All rates are in
// Hz, the de-emphasis time constant in microseconds.
type FmDecoderConfig struct {
	SampleRateIF  float64
	TuningOffset  float64
	SampleRatePCM float64
	Stereo        bool
	Deemphasis    float64
	BandwidthIF   float64
	FreqDev       float64
	BandwidthPCM  float64
	PLLLoopHz     float64
	Downsample    int
}

// FmDecoder turns blocks of I/Q samples into blocks of audio samples. All
// filter memories, the mixer phase and the PLL state live here and persist
// across blocks; only the decode thread may call Process.
type FmDecoder struct {
	cfg          FmDecoderConfig
	basebandRate float64

	finetuner     *FineTuner
	downsampler   *DownsampleFilter
	discriminator *PhaseDiscriminator
	pll           *PilotPhaseLock

	sumFilter  *FirFilter // L+R low-pass
	diffFilter *FirFilter // L-R low-pass

	deemphLeft  *DeemphasisFilter
	deemphRight *DeemphasisFilter

	resampLeft  *RationalResampler
	resampRight *RationalResampler

	// Stereo blend gain, ramped over ~10 ms on lock transitions to avoid
	// clicks.
	stereoGain float64
	stereoStep float64

	ifLevel       float64
	basebandLevel float64
	audioLevel    float64

	diffScratch  []float32
	leftScratch  []float32
	rightScratch []float32
	outScratch   []float32
}

// NewFmDecoder creates a decoder for the given configuration.
func NewFmDecoder(cfg FmDecoderConfig) *FmDecoder {
	if cfg.Downsample < 1 {
		cfg.Downsample = 1
	}
	if cfg.PLLLoopHz <= 0 {
		cfg.PLLLoopHz = pllLoopFreqHz
	}
	basebandRate := cfg.SampleRateIF / float64(cfg.Downsample)

	// Channel selection filter: cut-off at half the IF bandwidth relative to
	// the IF rate, sized with the decimation factor.
	ifTaps := 8*cfg.Downsample + 1
	ifKernel := firLowPassKernel(ifTaps, cfg.BandwidthIF/2/cfg.SampleRateIF)

	// Audio low-pass at the baseband rate; doubles as the anti-alias filter
	// in front of the resampler.
	audioKernel := firLowPassKernel(101, cfg.BandwidthPCM/basebandRate)

	d := &FmDecoder{
		cfg:           cfg,
		basebandRate:  basebandRate,
		finetuner:     NewFineTuner(cfg.TuningOffset, cfg.SampleRateIF),
		downsampler:   NewDownsampleFilter(ifKernel, cfg.Downsample),
		discriminator: NewPhaseDiscriminator(cfg.FreqDev, basebandRate),
		pll:           NewPilotPhaseLock(basebandRate, cfg.PLLLoopHz),
		sumFilter:     NewFirFilter(audioKernel),
		deemphLeft:    NewDeemphasisFilter(cfg.Deemphasis, basebandRate),
		resampLeft:    NewRationalResampler(basebandRate, cfg.SampleRatePCM),
		stereoStep:    1 / (0.010 * basebandRate),
	}
	if cfg.Stereo {
		d.diffFilter = NewFirFilter(audioKernel)
		d.deemphRight = NewDeemphasisFilter(cfg.Deemphasis, basebandRate)
		d.resampRight = NewRationalResampler(basebandRate, cfg.SampleRatePCM)
	}
	return d
}

// Process decodes one I/Q block into interleaved stereo (or mono) audio. The
// returned slice is owned by the decoder and valid until the next call.
func (d *FmDecoder) Process(iq []complex64) []float32 {
	// Fine tuning; measure the IF level on the mixer output.
	d.finetuner.Process(iq)
	d.ifLevel = complexRMS(iq)

	// Down-convert to the baseband rate.
	baseband := d.downsampler.Process(iq)

	// FM discrimination.
	demod := d.discriminator.Process(baseband)
	_, d.basebandLevel = samplesMeanRMS(demod)

	// Pilot PLL; generates the coherent 38 kHz reference.
	d.pll.Process(demod)

	var audio []float32
	if d.cfg.Stereo {
		audio = d.processStereo(demod)
	} else {
		audio = d.processMono(demod)
	}

	// Nominal output gain.
	for i := range audio {
		audio[i] *= 0.5
	}

	_, rms := samplesMeanRMS(audio)
	d.audioLevel = (1-audioLevelSmoothing)*d.audioLevel + audioLevelSmoothing*rms

	if d.dspStateInvalid() {
		log.Printf("WARNING: NaN in DSP state, resetting decoder")
		d.resetState()
		for i := range audio {
			audio[i] = 0
		}
	}
	return audio
}

// processMono produces one channel: the L+R sum, de-emphasised and resampled.
func (d *FmDecoder) processMono(demod []float32) []float32 {
	sum := d.sumFilter.Process(demod)
	d.deemphLeft.Process(sum)
	return d.resampLeft.Process(sum)
}

// processStereo extracts L+R and L-R, reconstructs left/right with a short
// cross-fade on lock transitions, then de-emphasises and resamples each
// channel.
func (d *FmDecoder) processStereo(demod []float32) []float32 {
	ref38 := d.pll.Ref38()
	if cap(d.diffScratch) < len(demod) {
		d.diffScratch = make([]float32, len(demod))
	}
	diff := d.diffScratch[:len(demod)]
	for i, s := range demod {
		diff[i] = s * 2 * ref38[i]
	}

	sum := d.sumFilter.Process(demod)
	diffLP := d.diffFilter.Process(diff)

	if cap(d.leftScratch) < len(sum) {
		d.leftScratch = make([]float32, len(sum))
		d.rightScratch = make([]float32, len(sum))
	}
	left := d.leftScratch[:len(sum)]
	right := d.rightScratch[:len(sum)]

	target := 0.0
	if d.pll.Locked() {
		target = 1.0
	}
	gain := d.stereoGain
	for i := range sum {
		if gain < target {
			gain += d.stereoStep
			if gain > target {
				gain = target
			}
		} else if gain > target {
			gain -= d.stereoStep
			if gain < target {
				gain = target
			}
		}
		dd := float32(gain) * diffLP[i]
		left[i] = sum[i] + dd
		right[i] = sum[i] - dd
	}
	d.stereoGain = gain

	d.deemphLeft.Process(left)
	d.deemphRight.Process(right)

	outLeft := d.resampLeft.Process(left)
	outRight := d.resampRight.Process(right)

	n := len(outLeft)
	if len(outRight) < n {
		n = len(outRight)
	}
	if cap(d.outScratch) < 2*n {
		d.outScratch = make([]float32, 2*n)
	}
	out := d.outScratch[:2*n]
	for i := 0; i < n; i++ {
		out[2*i] = outLeft[i]
		out[2*i+1] = outRight[i]
	}
	return out
}

// dspStateInvalid reports whether any per-block level came out non-finite.
func (d *FmDecoder) dspStateInvalid() bool {
	return math.IsNaN(d.ifLevel) || math.IsInf(d.ifLevel, 0) ||
		math.IsNaN(d.basebandLevel) || math.IsInf(d.basebandLevel, 0) ||
		math.IsNaN(d.audioLevel) || math.IsInf(d.audioLevel, 0)
}

// resetState zeroes every filter memory after a numerical fault.
func (d *FmDecoder) resetState() {
	d.finetuner.Reset()
	d.downsampler.Reset()
	d.discriminator.Reset()
	d.pll.Reset()
	d.sumFilter.Reset()
	d.deemphLeft.Reset()
	d.resampLeft.Reset()
	if d.cfg.Stereo {
		d.diffFilter.Reset()
		d.deemphRight.Reset()
		d.resampRight.Reset()
	}
	d.audioLevel = 0
}

// BasebandRate returns the sample rate after decimation.
func (d *FmDecoder) BasebandRate() float64 {
	return d.basebandRate
}

// TuningOffset returns the digital tuning offset in Hz.
func (d *FmDecoder) TuningOffset() float64 {
	return d.cfg.TuningOffset
}

// IFLevel returns the RMS level of the tuned IF signal for the last block.
func (d *FmDecoder) IFLevel() float64 {
	return d.ifLevel
}

// BasebandLevel returns the RMS level of the discriminator output for the
// last block.
func (d *FmDecoder) BasebandLevel() float64 {
	return d.basebandLevel
}

// AudioLevel returns the exponentially smoothed audio RMS.
func (d *FmDecoder) AudioLevel() float64 {
	return d.audioLevel
}

// PilotLevel returns the RMS level of the 19 kHz pilot tone.
func (d *FmDecoder) PilotLevel() float64 {
	return d.pll.PilotLevel()
}

// StereoDetected reports whether a pilot is locked and stereo decoding is
// active.
func (d *FmDecoder) StereoDetected() bool {
	return d.cfg.Stereo && d.pll.Locked()
}

// PpsEvents drains the pulse-per-second events found since the last call.
func (d *FmDecoder) PpsEvents() []PpsEvent {
	return d.pll.PpsEvents()
}
