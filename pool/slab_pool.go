// File: pool/slab_pool.go
// Package pool implements fixed-size slab allocation for arena-style pooling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// cell is the per-element header colocated with its payload. Because val is
// the struct's first field, a *T returned by Alloc sits at the same address
// as its owning *cell[T] — the Go analogue of the original's "header
// immediately precedes payload" pointer arithmetic.
type cell[T any] struct {
	val   T
	inUse atomic.Bool
	next  *cell[T]
	blk   *block[T]
}

type block[T any] struct {
	cells    []cell[T]
	freeHead *cell[T]
	numInUse int
	next     *block[T]
	prev     *block[T]
}

// SlabPool is a generic fixed-size object pool with block growth, grounded
// on the original's slab allocator: blocks grow on demand, a block whose
// in-use count reaches zero is released unless it is the sole remaining
// block.
type SlabPool[T any] struct {
	mu             sync.Mutex
	blockHead      *block[T]
	elemsPerBlock  int
	growOnDemand   bool
	zeroOnAlloc    bool
	numBlocks      atomic.Int64
	numAllocs      atomic.Int64
	numFrees       atomic.Int64
	numAllocFails  atomic.Int64
	numInUse       atomic.Int64
}

// NewSlabPool creates a pool of elements of type T, elemsPerBlock per growth
// block. growOnDemand allows additional blocks beyond the first; zeroOnAlloc
// resets an element to its zero value on Alloc.
func NewSlabPool[T any](elemsPerBlock int, growOnDemand, zeroOnAlloc bool) *SlabPool[T] {
	if elemsPerBlock < 2 {
		elemsPerBlock = 2
	}
	return &SlabPool[T]{
		elemsPerBlock: elemsPerBlock,
		growOnDemand:  growOnDemand,
		zeroOnAlloc:   zeroOnAlloc,
	}
}

func (p *SlabPool[T]) allocBlock() *block[T] {
	b := &block[T]{cells: make([]cell[T], p.elemsPerBlock)}
	for i := range b.cells {
		b.cells[i].blk = b
		if i+1 < len(b.cells) {
			b.cells[i].next = &b.cells[i+1]
		}
	}
	b.freeHead = &b.cells[0]
	p.numBlocks.Add(1)
	return b
}

// Alloc returns a new *T from the pool, growing a block if needed.
// Returns nil if the pool is exhausted and growOnDemand is false.
func (p *SlabPool[T]) Alloc() *T {
	p.mu.Lock()

	b := p.blockHead
	for b != nil && b.freeHead == nil {
		b = b.next
	}
	if b == nil {
		if p.growOnDemand || p.blockHead == nil {
			b = p.allocBlock()
			b.next = p.blockHead
			if p.blockHead != nil {
				p.blockHead.prev = b
			}
			p.blockHead = b
		} else {
			p.numAllocFails.Add(1)
			p.mu.Unlock()
			return nil
		}
	}

	c := b.freeHead
	b.freeHead = c.next
	c.next = nil
	c.inUse.Store(true)
	b.numInUse++
	p.numAllocs.Add(1)
	p.numInUse.Add(1)
	p.mu.Unlock()

	if p.zeroOnAlloc {
		var zero T
		c.val = zero
	}
	return &c.val
}

func (p *SlabPool[T]) freeBlock(b *block[T]) {
	if p.blockHead == b {
		p.blockHead = b.next
	} else {
		b.prev.next = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	p.numBlocks.Add(-1)
}

// Free returns ptr to the pool. ptr must have been returned by Alloc and not
// already freed.
func (p *SlabPool[T]) Free(ptr *T) {
	c := (*cell[T])(unsafe.Pointer(ptr))
	if !c.inUse.CompareAndSwap(true, false) {
		return // already free; idempotent
	}

	p.mu.Lock()
	b := c.blk
	c.next = b.freeHead
	b.freeHead = c
	b.numInUse--
	p.numFrees.Add(1)
	p.numInUse.Add(-1)
	if b.numInUse == 0 && p.growOnDemand && (b.next != nil || b.prev != nil) {
		p.freeBlock(b)
	}
	p.mu.Unlock()
}

// Walk visits every in-use element; visitor returns true to stop early.
func (p *SlabPool[T]) Walk(visitor func(*T) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for b := p.blockHead; b != nil; b = b.next {
		if b.numInUse == 0 {
			continue
		}
		for i := range b.cells {
			c := &b.cells[i]
			if c.inUse.Load() {
				if visitor(&c.val) {
					return
				}
			}
		}
	}
}

// SlabStats reports allocation bookkeeping for control/metrics exporters.
type SlabStats struct {
	NumBlocks     int64
	NumAllocs     int64
	NumFrees      int64
	NumAllocFails int64
	NumInUse      int64
}

// Stats returns a snapshot of pool bookkeeping.
func (p *SlabPool[T]) Stats() SlabStats {
	return SlabStats{
		NumBlocks:     p.numBlocks.Load(),
		NumAllocs:     p.numAllocs.Load(),
		NumFrees:      p.numFrees.Load(),
		NumAllocFails: p.numAllocFails.Load(),
		NumInUse:      p.numInUse.Load(),
	}
}
