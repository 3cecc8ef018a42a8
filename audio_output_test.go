package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decodeS16LE(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out
}

func TestSamplesToInt16RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOf(rapid.Float64Range(-1, 1)).Draw(t, "samples")
		in := make([]float32, len(samples))
		for i, s := range samples {
			in[i] = float32(s)
		}

		buf := samplesToInt16(in, nil)
		decoded := decodeS16LE(buf)
		require.Len(t, decoded, len(in))

		for i, v := range decoded {
			back := float64(v) / 32767
			if diff := back - float64(in[i]); diff > 1.0/32767 || diff < -1.0/32767 {
				t.Fatalf("sample %d: got %v back from %v (diff %v)", i, back, in[i], diff)
			}
		}
	})
}

func TestSamplesToInt16Clamping(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOf(rapid.Float64Range(-10, 10)).Draw(t, "samples")
		in := make([]float32, len(samples))
		for i, s := range samples {
			in[i] = float32(s)
		}

		for _, v := range decodeS16LE(samplesToInt16(in, nil)) {
			if v < -32767 || v > 32767 {
				t.Fatalf("encoded value %d outside [-32767, 32767]", v)
			}
		}
	})
}

func TestSamplesToInt16Extremes(t *testing.T) {
	buf := samplesToInt16([]float32{1, -1, 2, -2, 0}, nil)
	decoded := decodeS16LE(buf)
	assert.Equal(t, []int16{32767, -32767, 32767, -32767, 0}, decoded)
}

func TestRawAudioOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	out, err := NewRawAudioOutput(path)
	require.NoError(t, err)

	samples := []float32{0.5, -0.5, 1, -1}
	require.NoError(t, out.Write(samples))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, samplesToInt16(samples, nil), data)
}

func TestWavHeaderRewrite(t *testing.T) {
	for _, channels := range []int{1, 2} {
		stereo := channels == 2
		path := filepath.Join(t.TempDir(), "out.wav")

		out, err := NewWavAudioOutput(path, 48000, stereo)
		require.NoError(t, err)

		// 3 blocks of 1000 frames.
		const frames = 3000
		block := make([]float32, 1000*channels)
		for i := range block {
			block[i] = 0.25
		}
		for b := 0; b < 3; b++ {
			require.NoError(t, out.Write(block))
		}
		require.NoError(t, out.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		nsamples := uint32(frames * channels)
		require.Len(t, data, int(44+2*nsamples))

		assert.Equal(t, "RIFF", string(data[0:4]))
		assert.Equal(t, 36+2*nsamples, binary.LittleEndian.Uint32(data[4:8]))
		assert.Equal(t, "WAVE", string(data[8:12]))
		assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))
		assert.Equal(t, uint16(channels), binary.LittleEndian.Uint16(data[22:24]))
		assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(data[24:28]))
		assert.Equal(t, uint32(48000*channels*2), binary.LittleEndian.Uint32(data[28:32]))
		assert.Equal(t, uint16(channels*2), binary.LittleEndian.Uint16(data[32:34]))
		assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
		assert.Equal(t, "data", string(data[36:40]))
		assert.Equal(t, 2*nsamples, binary.LittleEndian.Uint32(data[40:44]))
	}
}

func TestWavFileDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	out, err := NewWavAudioOutput(path, 44100, true)
	require.NoError(t, err)

	samples := make([]float32, 2048)
	for i := range samples {
		samples[i] = float32(i%100)/100 - 0.5
	}
	require.NoError(t, out.Write(samples))
	require.NoError(t, out.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	require.NoError(t, dec.FwdToPCM())
	assert.Equal(t, uint32(44100), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	buf := &audio.IntBuffer{Data: make([]int, 4096)}
	n, err := dec.PCMBuffer(buf)
	require.NoError(t, err)
	require.Equal(t, len(samples), n)

	want := decodeS16LE(samplesToInt16(samples, nil))
	for i := 0; i < n; i++ {
		assert.Equal(t, int(want[i]), buf.Data[i], "sample %d", i)
	}
}
