package main

import (
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portAudioFramesPerBuffer is the callback granularity requested from the
// host audio API.
const portAudioFramesPerBuffer = 1024

// PortAudioOutput plays audio on a host device. Converted frames are queued
// on a channel consumed by the PortAudio callback thread; when the queue runs
// dry the callback outputs silence and counts an underrun, so the device never
// waits for the decoder. Write blocks only while the queue is full.
type PortAudioOutput struct {
	stream   *portaudio.Stream
	ch       chan []int16
	channels int
	rate     int

	queued    atomic.Int64 // frames buffered between Write and the callback
	underruns atomic.Uint64

	// Callback-side state; only the audio thread touches these.
	current []int16
	pos     int
}

// NewPortAudioOutput opens a playback stream on the device with the given
// index, or the default device for index < 0. bufSecs sets the depth of the
// queue between the decoder and the audio thread.
func NewPortAudioOutput(rate int, stereo bool, deviceIndex int, bufSecs float64) (*PortAudioOutput, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio host: %w", err)
	}

	channels := 1
	if stereo {
		channels = 2
	}
	if bufSecs <= 0 {
		bufSecs = 1.0
	}
	// One queue entry per decoded block; size the queue so it holds roughly
	// bufSecs of audio at typical block sizes.
	depth := int(bufSecs * float64(rate) / 2048)
	if depth < 4 {
		depth = 4
	}

	o := &PortAudioOutput{
		ch:       make(chan []int16, depth),
		channels: channels,
		rate:     rate,
	}

	var stream *portaudio.Stream
	var err error
	if deviceIndex >= 0 {
		devices, derr := portaudio.Devices()
		if derr != nil {
			portaudio.Terminate()
			return nil, fmt.Errorf("failed to list audio devices: %w", derr)
		}
		if deviceIndex >= len(devices) {
			portaudio.Terminate()
			return nil, fmt.Errorf("invalid audio device index %d (max %d)", deviceIndex, len(devices)-1)
		}
		params := portaudio.StreamParameters{
			Output: portaudio.StreamDeviceParameters{
				Device:   devices[deviceIndex],
				Channels: channels,
				Latency:  devices[deviceIndex].DefaultHighOutputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: portAudioFramesPerBuffer,
		}
		stream, err = portaudio.OpenStream(params, o.callback)
	} else {
		stream, err = portaudio.OpenDefaultStream(0, channels, float64(rate), portAudioFramesPerBuffer, o.callback)
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	o.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return o, nil
}

// callback runs on the audio thread. It drains queued chunks and pads with
// silence when starved.
func (o *PortAudioOutput) callback(out []int16) {
	outPos := 0
	for outPos < len(out) {
		if o.current == nil || o.pos >= len(o.current) {
			select {
			case o.current = <-o.ch:
				o.pos = 0
			default:
				for i := outPos; i < len(out); i++ {
					out[i] = 0
				}
				o.underruns.Add(1)
				return
			}
		}
		n := copy(out[outPos:], o.current[o.pos:])
		outPos += n
		o.pos += n
		o.queued.Add(-int64(n / o.channels))
	}
}

// Write converts one block and queues it for playback. Blocks briefly when
// the queue is full.
func (o *PortAudioOutput) Write(samples []float32) error {
	chunk := make([]int16, len(samples))
	for i, s := range samples {
		f := s
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := f * 32767
		if v >= 0 {
			chunk[i] = int16(v + 0.5)
		} else {
			chunk[i] = int16(v - 0.5)
		}
	}
	o.ch <- chunk
	o.queued.Add(int64(len(chunk) / o.channels))
	return nil
}

// BufferSeconds returns the current queue fill in seconds of audio.
func (o *PortAudioOutput) BufferSeconds() float64 {
	return float64(o.queued.Load()) / float64(o.rate)
}

// Underruns returns the number of times the callback ran dry.
func (o *PortAudioOutput) Underruns() uint64 {
	return o.underruns.Load()
}

// Close stops the stream and shuts down the audio host.
func (o *PortAudioOutput) Close() error {
	err := o.stream.Stop()
	if cerr := o.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	if err != nil {
		return fmt.Errorf("failed to shut down audio stream: %w", err)
	}
	return nil
}
