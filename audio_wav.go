package main

import (
	"encoding/binary"
	"fmt"
	"os"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + data size
	Format    [4]byte // "WAVE"

	// fmt sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 1 or 2
	SampleRate    uint32  // sample rate in Hz
	ByteRate      uint32  // SampleRate * NumChannels * 2
	BlockAlign    uint16  // NumChannels * 2
	BitsPerSample uint16  // 16

	// data sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // samples * 2
}

// WavAudioOutput writes S16LE audio into a RIFF/WAVE container. The header is
// written with a placeholder sample count and rewritten with the exact count
// when the file is closed.
type WavAudioOutput struct {
	file      *os.File
	rate      int
	channels  int
	dataBytes int64
	bytebuf   []byte
}

// NewWavAudioOutput creates the .WAV file and writes the initial header.
func NewWavAudioOutput(filename string, rate int, stereo bool) (*WavAudioOutput, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("can not open '%s' (%v)", filename, err)
	}
	w := &WavAudioOutput{
		file:     file,
		rate:     rate,
		channels: 1,
	}
	if stereo {
		w.channels = 2
	}
	// Dummy sample count; replaced on Close.
	if err := w.writeHeader(0x7fff0000); err != nil {
		file.Close()
		return nil, fmt.Errorf("can not write to '%s' (%v)", filename, err)
	}
	return w, nil
}

// writeHeader writes the header for the given total number of 16-bit samples
// at the current file position.
func (w *WavAudioOutput) writeHeader(nsamples uint32) error {
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + nsamples*2,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(w.channels),
		SampleRate:    uint32(w.rate),
		ByteRate:      uint32(w.rate * w.channels * 2),
		BlockAlign:    uint16(w.channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: nsamples * 2,
	}
	return binary.Write(w.file, binary.LittleEndian, &header)
}

// Write converts and appends one block of samples.
func (w *WavAudioOutput) Write(samples []float32) error {
	w.bytebuf = samplesToInt16(samples, w.bytebuf[:0])
	n, err := w.file.Write(w.bytebuf)
	w.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("write failed (%v)", err)
	}
	return nil
}

// Close rewrites the header with the exact sample count and closes the file.
// An unseekable file keeps the dummy count.
func (w *WavAudioOutput) Close() error {
	if _, err := w.file.Seek(0, 0); err == nil {
		if err := w.writeHeader(uint32(w.dataBytes / 2)); err != nil {
			w.file.Close()
			return fmt.Errorf("header rewrite failed (%v)", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close failed (%v)", err)
	}
	return nil
}
