package main

import (
	"math"
)

// pilotFreqHz is the stereo pilot tone frequency in the FM multiplex.
const pilotFreqHz = 19000.0

// PpsEvent marks a seconds-boundary derived from the pilot tone.
type PpsEvent struct {
	PpsIndex      uint64  // monotonically increasing event counter
	SampleIndex   uint64  // baseband samples consumed since start
	BlockPosition float64 // fractional [0,1) offset within the current block
}

// PilotPhaseLock tracks the 19 kHz stereo pilot with a second-order PLL and
// synthesises phase-coherent 19/38 kHz references from its NCO. One NCO cycle
// equals one pilot period; every 19000 cycles it emits a pulse-per-second
// event.
type PilotPhaseLock struct {
	sampleRate  float64
	freqNominal float64 // rad/sample
	freqMin     float64
	freqMax     float64
	alpha       float64 // loop filter proportional gain
	beta        float64 // loop filter integral gain

	phase      float64 // NCO phase, wrapped to (-pi, pi]
	freq       float64 // NCO frequency, rad/sample
	integrator float64
	phaseError float64 // last filtered phase error

	// Lock detector: one-pole smoothed in-phase correlation and quadrature
	// error, compared with hysteresis over a sustain window.
	smoothEps  float64
	pilotCorr  float64 // smoothed ref19 * sample
	errorCorr  float64 // smoothed phase detector output
	minSignal  float64
	lockDelay  int
	lockCount  int
	locked     bool

	periodCount int // NCO wraps since the last PPS event
	sampleCount uint64
	ppsIndex    uint64
	events      []PpsEvent

	ref38 []float32
}

// NewPilotPhaseLock creates a PLL at the given baseband sample rate with the
// given closed-loop natural frequency in Hz (damping is fixed at 1/sqrt(2)).
func NewPilotPhaseLock(sampleRate, loopFreqHz float64) *PilotPhaseLock {
	nominal := 2 * math.Pi * pilotFreqHz / sampleRate
	// Allow the NCO to pull +/-200 Hz around the nominal pilot frequency.
	rng := 2 * math.Pi * 200 / sampleRate

	wn := 2 * math.Pi * loopFreqHz / sampleRate
	damping := math.Sqrt2 / 2

	return &PilotPhaseLock{
		sampleRate:  sampleRate,
		freqNominal: nominal,
		freqMin:     nominal - rng,
		freqMax:     nominal + rng,
		alpha:       2 * damping * wn,
		beta:        wn * wn,
		freq:        nominal,
		smoothEps:   1 / (0.010 * sampleRate),
		minSignal:   0.01,
		lockDelay:   int(0.020 * sampleRate),
	}
}

// Process runs the PLL over one baseband block. After the call, Ref38 holds
// the coherent 38 kHz reference for the same block and PpsEvents returns any
// seconds-boundaries that occurred inside it.
func (p *PilotPhaseLock) Process(samples []float32) {
	if cap(p.ref38) < len(samples) {
		p.ref38 = make([]float32, len(samples))
	}
	p.ref38 = p.ref38[:len(samples)]
	n := float64(len(samples))

	for i, sample := range samples {
		s, c := math.Sincos(p.phase)

		// The 38 kHz reference is derived coherently from the same NCO
		// phase the detector sees.
		p.ref38[i] = float32(math.Cos(2 * p.phase))

		// Multiplier phase detector: proportional to sin(phase error) for an
		// in-phase pilot.
		e := float64(sample) * -s

		// Proportional-plus-integral loop filter.
		u := p.alpha*e + p.integrator
		p.integrator += p.beta * e
		p.phaseError = u

		freq := p.freqNominal + u
		if freq < p.freqMin {
			freq = p.freqMin
		} else if freq > p.freqMax {
			freq = p.freqMax
		}
		p.freq = freq

		prevPhase := p.phase
		p.phase += freq
		if p.phase > math.Pi {
			p.phase -= 2 * math.Pi
			p.periodCount++
			if p.periodCount >= int(pilotFreqHz) {
				p.periodCount = 0
				// Interpolate the wrap position between the two straddling
				// samples.
				frac := (math.Pi - prevPhase) / freq
				pos := (float64(i) + frac) / n
				if pos >= 1 {
					pos = math.Nextafter(1, 0)
				} else if pos < 0 {
					pos = 0
				}
				p.events = append(p.events, PpsEvent{
					PpsIndex:      p.ppsIndex,
					SampleIndex:   p.sampleCount + uint64(i) + 1,
					BlockPosition: pos,
				})
				p.ppsIndex++
			}
		}

		// Lock detection.
		p.pilotCorr += p.smoothEps * (float64(sample)*c - p.pilotCorr)
		p.errorCorr += p.smoothEps * (e - p.errorCorr)
		if p.pilotCorr > p.minSignal && p.pilotCorr > 4*math.Abs(p.errorCorr) {
			if p.lockCount < p.lockDelay {
				p.lockCount++
			}
		} else {
			p.lockCount = 0
		}
		p.locked = p.lockCount >= p.lockDelay
	}

	p.sampleCount += uint64(len(samples))
}

// Ref38 returns the 38 kHz reference generated by the last Process call.
func (p *PilotPhaseLock) Ref38() []float32 {
	return p.ref38
}

// Locked reports whether the PLL is locked to a pilot tone.
func (p *PilotPhaseLock) Locked() bool {
	return p.locked
}

// PilotLevel returns the RMS level of the tracked 19 kHz pilot tone.
func (p *PilotPhaseLock) PilotLevel() float64 {
	if p.pilotCorr <= 0 {
		return 0
	}
	// The smoothed correlation converges to half the pilot amplitude.
	return math.Sqrt2 * p.pilotCorr
}

// PpsEvents drains and returns the events accumulated since the last call.
func (p *PilotPhaseLock) PpsEvents() []PpsEvent {
	events := p.events
	p.events = nil
	return events
}

// Reset returns the loop to its free-running state. Event counters are kept.
func (p *PilotPhaseLock) Reset() {
	p.phase = 0
	p.freq = p.freqNominal
	p.integrator = 0
	p.phaseError = 0
	p.pilotCorr = 0
	p.errorCorr = 0
	p.lockCount = 0
	p.locked = false
}
