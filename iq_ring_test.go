package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIQRingFIFOOrder(t *testing.T) {
	ring := NewIQRing(8, 16)

	for i := 0; i < 5; i++ {
		slot := ring.WriteSlot()
		require.NotNil(t, slot)
		slot[0] = complex(float32(i), 0)
		ring.Publish(16)
	}

	for i := 0; i < 5; i++ {
		block, ok := ring.Pull()
		require.True(t, ok)
		assert.Equal(t, float32(i), real(block[0]))
		assert.Len(t, block, 16)
		ring.Release()
	}
}

func TestIQRingDropWhenFull(t *testing.T) {
	ring := NewIQRing(4, 16)

	// Fill every slot.
	for i := 0; i < 4; i++ {
		slot := ring.WriteSlot()
		require.NotNil(t, slot)
		ring.Publish(16)
	}

	// Every further claim is rejected and counted; the producer never
	// blocks.
	for i := 0; i < 7; i++ {
		assert.Nil(t, ring.WriteSlot())
	}
	assert.Equal(t, uint64(7), ring.Dropped())

	// Draining one slot makes room again.
	_, ok := ring.Pull()
	require.True(t, ok)
	ring.Release()
	assert.NotNil(t, ring.WriteSlot())
}

func TestIQRingCloseUnblocksConsumer(t *testing.T) {
	ring := NewIQRing(4, 16)

	done := make(chan bool)
	go func() {
		_, ok := ring.Pull()
		done <- ok
	}()
	ring.Close()
	assert.False(t, <-done)
}

func TestIQRingProducerConsumer(t *testing.T) {
	const blocks = 2000
	ring := NewIQRing(8, 4)

	var wg sync.WaitGroup
	wg.Add(1)
	received := make([]float32, 0, blocks)
	go func() {
		defer wg.Done()
		for {
			block, ok := ring.Pull()
			if !ok {
				return
			}
			received = append(received, real(block[0]))
			ring.Release()
		}
	}()

	sent := 0
	for i := 0; i < blocks; i++ {
		slot := ring.WriteSlot()
		if slot == nil {
			continue
		}
		slot[0] = complex(float32(sent), 0)
		ring.Publish(4)
		sent++
	}
	ring.Close()
	wg.Wait()

	// Everything published arrives exactly once, in order; drops are
	// accounted for.
	assert.Equal(t, uint64(blocks-sent), ring.Dropped())
	require.Len(t, received, sent)
	for i, v := range received {
		assert.Equal(t, float32(i), v)
	}
}
