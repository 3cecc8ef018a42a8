package main

import (
	"log"
	"sync"
)

// sampleBuffer moves audio sample blocks from the decode thread to a
// background writer. Unlike the capture ring it is unbounded and the consumer
// waits for a minimum fill before draining, which smooths out interactive
// output streams.
type sampleBuffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]float32
	qlen      int
	endMarked bool
}

func newSampleBuffer() *sampleBuffer {
	b := &sampleBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends one block.
func (b *sampleBuffer) push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.qlen += len(samples)
	b.queue = append(b.queue, samples)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// pushEnd marks the end of the stream.
func (b *sampleBuffer) pushEnd() {
	b.mu.Lock()
	b.endMarked = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// queuedSamples returns the number of samples waiting in the buffer.
func (b *sampleBuffer) queuedSamples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.qlen
}

// pull removes and returns the oldest block, waiting until data or the end
// marker arrives. Returns nil at end of stream.
func (b *sampleBuffer) pull() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.endMarked {
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return nil
	}
	samples := b.queue[0]
	b.queue = b.queue[1:]
	b.qlen -= len(samples)
	return samples
}

// pullEndReached reports whether the stream has ended and drained.
func (b *sampleBuffer) pullEndReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.qlen == 0 && b.endMarked
}

// waitBufferFill blocks until the buffer holds minFill samples or the stream
// has ended.
func (b *sampleBuffer) waitBufferFill(minFill int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.qlen < minFill && !b.endMarked {
		b.cond.Wait()
	}
}

// writeOutputData drains the buffer into the sink. When the buffer empties it
// waits for the nominal fill level before resuming, so a fast sink does not
// starve right away again. Runs as a background goroutine when output
// buffering is enabled.
func writeOutputData(output AudioOutput, buf *sampleBuffer, minFill int) {
	for {
		if buf.queuedSamples() == 0 {
			buf.waitBufferFill(minFill)
		}
		if buf.pullEndReached() {
			return
		}
		samples := buf.pull()
		if samples == nil {
			return
		}
		if err := output.Write(samples); err != nil {
			log.Printf("ERROR: AudioOutput: %v", err)
		}
	}
}
