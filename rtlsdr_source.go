package main

import (
	"fmt"
	"log"
	"math"
	"sync"

	rtl "github.com/jpoirier/gortlsdr"
)

const (
	// TunerGainAuto selects hardware automatic gain control instead of a
	// fixed LNA gain.
	TunerGainAuto = math.MinInt32

	// defaultBlockLength is the preferred number of I/Q samples per capture
	// block.
	defaultBlockLength = 65536

	minBlockLength = 4096
	maxBlockLength = 1024 * 1024
)

// RtlSdrSource owns an RTL-SDR device handle and streams fixed-size I/Q
// blocks from it. The device is exclusively owned by this component; in async
// mode the callback goroutine is the only writer into the hand-off ring.
type RtlSdrSource struct {
	dev         *rtl.Context
	devName     string
	blockLength int

	mu       sync.Mutex
	ring     *IQRing
	running  bool
	done     chan struct{}
	asyncErr error
	readBuf  []byte
}

// GetDeviceNames returns the names of all connected RTL-SDR devices.
func GetDeviceNames() []string {
	count := rtl.GetDeviceCount()
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		names = append(names, rtl.GetDeviceName(i))
	}
	return names
}

// OpenRtlSdr opens the RTL-SDR device with the given index.
func OpenRtlSdr(devIndex int) (*RtlSdrSource, error) {
	dev, err := rtl.Open(devIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to open RTL-SDR device %d: %w", devIndex, err)
	}
	return &RtlSdrSource{
		dev:         dev,
		devName:     rtl.GetDeviceName(devIndex),
		blockLength: defaultBlockLength,
	}, nil
}

// Configure sets up the tuner and prepares for streaming. sampleRate is in
// Hz, frequency is the tuned centre frequency in Hz, tunerGain is in tenths
// of a dB or TunerGainAuto, blockLength is snapped to the nearest lower
// multiple of 4096 in [4096, 1048576].
func (s *RtlSdrSource) Configure(sampleRate, frequency int, tunerGain int, blockLength int, agc bool) error {
	if err := s.dev.SetSampleRate(sampleRate); err != nil {
		return fmt.Errorf("failed to set sample rate: %w", err)
	}
	if err := s.dev.SetCenterFreq(frequency); err != nil {
		return fmt.Errorf("failed to set center frequency: %w", err)
	}

	if tunerGain == TunerGainAuto {
		if err := s.dev.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("failed to set automatic gain mode: %w", err)
		}
	} else {
		if err := s.dev.SetTunerGainMode(true); err != nil {
			return fmt.Errorf("failed to set manual gain mode: %w", err)
		}
		if err := s.dev.SetTunerGain(tunerGain); err != nil {
			return fmt.Errorf("failed to set tuner gain: %w", err)
		}
	}

	if err := s.dev.SetAgcMode(agc); err != nil {
		return fmt.Errorf("failed to set RTL AGC mode: %w", err)
	}

	s.blockLength = snapBlockLength(blockLength)

	// Reset the internal buffer to start streaming.
	if err := s.dev.ResetBuffer(); err != nil {
		return fmt.Errorf("failed to reset device buffer: %w", err)
	}
	return nil
}

// snapBlockLength clamps to [4096, 1048576] and rounds down to a multiple of
// 4096.
func snapBlockLength(n int) int {
	if n < minBlockLength {
		n = minBlockLength
	} else if n > maxBlockLength {
		n = maxBlockLength
	}
	return n - n%minBlockLength
}

// BlockLength returns the configured samples per block.
func (s *RtlSdrSource) BlockLength() int {
	return s.blockLength
}

// SampleRate returns the actual device sample rate in Hz.
func (s *RtlSdrSource) SampleRate() int {
	return s.dev.GetSampleRate()
}

// Frequency returns the actual tuned centre frequency in Hz.
func (s *RtlSdrSource) Frequency() int {
	return s.dev.GetCenterFreq()
}

// TunerGain returns the current tuner gain in tenths of a dB.
func (s *RtlSdrSource) TunerGain() int {
	return s.dev.GetTunerGain()
}

// TunerGains returns the gain settings supported by the tuner, in tenths of
// a dB.
func (s *RtlSdrSource) TunerGains() ([]int, error) {
	gains, err := s.dev.GetTunerGains()
	if err != nil {
		return nil, fmt.Errorf("failed to query tuner gains: %w", err)
	}
	return gains, nil
}

// DeviceName returns the name of the opened device.
func (s *RtlSdrSource) DeviceName() string {
	return s.devName
}

// StartAsync starts the device callback loop in a background goroutine. Each
// callback converts one block to I/Q floats and publishes it to the ring;
// blocks are dropped, never awaited, when the ring is full.
func (s *RtlSdrSource) StartAsync(ring *IQRing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("async capture already running")
	}
	s.ring = ring
	s.running = true
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		// ReadAsync blocks until CancelAsync; buffer length is in bytes,
		// two per I/Q sample.
		if err := s.dev.ReadAsync(s.dongleCallback, nil, 0, 2*s.blockLength); err != nil {
			s.mu.Lock()
			stillRunning := s.running
			if stillRunning {
				s.asyncErr = fmt.Errorf("device read failed: %w", err)
			}
			s.mu.Unlock()
			if stillRunning {
				log.Printf("device read loop ended: %v", err)
			}
		}
		ring.Close()
	}()
	return nil
}

// AsyncError returns the error that ended the callback loop, if any. A loop
// ended by StopAsync reports no error.
func (s *RtlSdrSource) AsyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asyncErr
}

// dongleCallback runs on the device thread. It must never block.
func (s *RtlSdrSource) dongleCallback(buf []byte) {
	slot := s.ring.WriteSlot()
	if slot == nil {
		return
	}
	n := len(buf) / 2
	if n > len(slot) {
		n = len(slot)
	}
	convertIQBytes(buf[:2*n], slot[:n])
	s.ring.Publish(n)
}

// StopAsync cancels the device callback loop and waits for the background
// goroutine to exit. No callbacks occur after it returns.
func (s *RtlSdrSource) StopAsync() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	if err := s.dev.CancelAsync(); err != nil {
		return fmt.Errorf("failed to cancel async read: %w", err)
	}
	<-done
	return nil
}

// ReadSync fetches one block synchronously. Only valid when async streaming
// is not running; it must be called regularly to maintain streaming.
func (s *RtlSdrSource) ReadSync() ([]complex64, error) {
	want := 2 * s.blockLength
	if cap(s.readBuf) < want {
		s.readBuf = make([]byte, want)
	}
	buf := s.readBuf[:want]

	nRead, err := s.dev.ReadSync(buf, want)
	if err != nil {
		return nil, fmt.Errorf("device read failed: %w", err)
	}
	if nRead != want {
		return nil, fmt.Errorf("short read, %d of %d bytes, samples lost", nRead, want)
	}

	samples := make([]complex64, s.blockLength)
	convertIQBytes(buf, samples)
	return samples, nil
}

// Close releases the device handle.
func (s *RtlSdrSource) Close() error {
	return s.dev.Close()
}

// convertIQBytes maps interleaved unsigned 8-bit I/Q bytes to complex samples
// in [-1, +1] as (b-128)/128.
func convertIQBytes(buf []byte, out []complex64) {
	for i := range out {
		re := (float32(buf[2*i]) - 128) / 128
		im := (float32(buf[2*i+1]) - 128) / 128
		out[i] = complex(re, im)
	}
}
