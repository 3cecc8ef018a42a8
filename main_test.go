package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDouble(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"100000000", 100e6, true},
		{"100M", 100e6, true},
		{"97.3M", 97.3e6, true},
		{"1200k", 1.2e6, true},
		{"1.5G", 1.5e9, true},
		{"-12.5", -12.5, true},
		{"", 0, false},
		{"abc", 0, false},
		{"12q", 0, false},
	}
	for _, tc := range tests {
		got, ok := parseDouble(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.InEpsilon(t, tc.want, got, 1e-12, "input %q", tc.in)
		}
	}
}

func TestParseIntRate(t *testing.T) {
	got, ok := parseIntRate("48k")
	assert.True(t, ok)
	assert.Equal(t, 48000, got)

	got, ok = parseIntRate("44100")
	assert.True(t, ok)
	assert.Equal(t, 44100, got)

	_, ok = parseIntRate("48.5")
	assert.False(t, ok)
}

func TestValidIFRate(t *testing.T) {
	assert.True(t, validIFRate(1200000))
	assert.True(t, validIFRate(240000))
	assert.True(t, validIFRate(3200000))
	assert.True(t, validIFRate(225002))

	// The RTL dongle cannot run in the gap between the two ranges.
	assert.False(t, validIFRate(500000))
	assert.False(t, validIFRate(225000))
	assert.False(t, validIFRate(3200001))
	assert.False(t, validIFRate(0))
}

func TestSnapBlockLength(t *testing.T) {
	assert.Equal(t, 65536, snapBlockLength(65536))
	assert.Equal(t, 61440, snapBlockLength(65535))
	assert.Equal(t, 4096, snapBlockLength(1))
	assert.Equal(t, 4096, snapBlockLength(4097))
	assert.Equal(t, 1024*1024, snapBlockLength(4<<20))
}
