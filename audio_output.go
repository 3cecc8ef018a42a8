package main

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// AudioOutput accepts blocks of audio samples (interleaved left/right for
// stereo) and delivers them to a file or playback device. Implementations
// report failures on the offending call; there is no separate health probe.
type AudioOutput interface {
	// Write converts one block of samples to S16LE and delivers it.
	Write(samples []float32) error
	// Close flushes and releases the sink.
	Close() error
}

// samplesToInt16 appends the S16LE encoding of samples to buf: clamp to
// [-1, +1], scale by 32767, round to nearest, little-endian.
func samplesToInt16(samples []float32, buf []byte) []byte {
	for _, s := range samples {
		f := float64(s)
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := int16(math.Round(f * 32767))
		buf = append(buf, byte(uint16(v)), byte(uint16(v)>>8))
	}
	return buf
}

// RawAudioOutput writes raw S16LE samples to a file descriptor, "-" meaning
// standard output.
type RawAudioOutput struct {
	fd       int
	isStdout bool
	bytebuf  []byte
}

// NewRawAudioOutput opens the raw output file, or wraps stdout for "-".
func NewRawAudioOutput(filename string) (*RawAudioOutput, error) {
	if filename == "-" {
		return &RawAudioOutput{fd: unix.Stdout, isStdout: true}, nil
	}
	fd, err := unix.Open(filename, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("can not open '%s' (%v)", filename, err)
	}
	return &RawAudioOutput{fd: fd}, nil
}

// Write converts and writes one block, retrying on EINTR and advancing past
// short writes.
func (o *RawAudioOutput) Write(samples []float32) error {
	o.bytebuf = samplesToInt16(samples, o.bytebuf[:0])

	p := 0
	for p < len(o.bytebuf) {
		k, err := unix.Write(o.fd, o.bytebuf[p:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("write failed (%v)", err)
		}
		if k == 0 {
			return fmt.Errorf("write failed (no progress)")
		}
		p += k
	}
	return nil
}

// Close closes the file descriptor unless it is stdout.
func (o *RawAudioOutput) Close() error {
	if o.isStdout {
		return nil
	}
	if err := unix.Close(o.fd); err != nil {
		return fmt.Errorf("close failed (%v)", err)
	}
	return nil
}
