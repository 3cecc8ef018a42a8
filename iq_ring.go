package main

import (
	"sync"
	"sync/atomic"
)

// IQRing is a bounded single-producer/single-consumer ring of I/Q blocks
// handed from the device callback to the decoder. The producer never blocks:
// when all slots are taken the block is dropped and counted. The consumer can
// wait on a condition variable that the producer signals after each publish.
//
// The write cursor is advanced with release semantics after the slot has been
// filled, and read with acquire semantics by the consumer, so every sample
// written before a publish is visible after the matching pull.
type IQRing struct {
	slots [][]complex64
	sizes []int
	mask  uint64

	writeCursor atomic.Uint64 // blocks published
	readCursor  atomic.Uint64 // blocks released
	dropped     atomic.Uint64
	closed      atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewIQRing creates a ring with the given number of slots (rounded up to a
// power of two), each able to hold blockLength samples.
func NewIQRing(capacity, blockLength int) *IQRing {
	n := 1
	for n < capacity {
		n <<= 1
	}
	r := &IQRing{
		slots: make([][]complex64, n),
		sizes: make([]int, n),
		mask:  uint64(n - 1),
	}
	for i := range r.slots {
		r.slots[i] = make([]complex64, blockLength)
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// WriteSlot claims the next free slot for the producer to fill, or nil if the
// ring is full. A full ring counts one dropped block.
func (r *IQRing) WriteSlot() []complex64 {
	w := r.writeCursor.Load()
	if w-r.readCursor.Load() >= uint64(len(r.slots)) {
		r.dropped.Add(1)
		return nil
	}
	return r.slots[w&r.mask]
}

// Publish makes the previously claimed slot, holding n valid samples, visible
// to the consumer and wakes it.
func (r *IQRing) Publish(n int) {
	w := r.writeCursor.Load()
	r.sizes[w&r.mask] = n
	r.writeCursor.Store(w + 1)

	r.mu.Lock()
	r.cond.Signal()
	r.mu.Unlock()
}

// Pull blocks until a block is available or the ring is closed and drained.
// The returned slice aliases ring memory and stays valid until Release is
// called. Returns nil, false on shutdown.
func (r *IQRing) Pull() ([]complex64, bool) {
	for {
		rd := r.readCursor.Load()
		if r.writeCursor.Load() > rd {
			return r.slots[rd&r.mask][:r.sizes[rd&r.mask]], true
		}
		if r.closed.Load() {
			return nil, false
		}
		r.mu.Lock()
		for r.writeCursor.Load() == r.readCursor.Load() && !r.closed.Load() {
			r.cond.Wait()
		}
		r.mu.Unlock()
	}
}

// Release frees the slot returned by the last Pull for reuse by the producer.
func (r *IQRing) Release() {
	r.readCursor.Add(1)
}

// Close wakes a blocked consumer; Pull returns false once the ring is
// drained.
func (r *IQRing) Close() {
	r.closed.Store(true)
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Dropped returns the number of blocks rejected because the ring was full.
func (r *IQRing) Dropped() uint64 {
	return r.dropped.Load()
}

// Queued returns the number of published blocks not yet released.
func (r *IQRing) Queued() int {
	return int(r.writeCursor.Load() - r.readCursor.Load())
}
