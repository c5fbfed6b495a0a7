package hdrhistogram

import "sync/atomic"

// counts is the storage interface every counts-array variant
// satisfies. Histogram operations are written against this interface
// so they are generic over cell width and atomicity without
// reflection.
type counts interface {
	len() int32
	get(index int32) int64
	set(index int32, value int64)
	add(index int32, delta int64) int64
	clear()
	clone() counts
}

// CellWidth selects the width of a non-concurrent histogram's counts
// cells, which are never atomic. Concurrent histograms always use
// 64-bit atomic cells and ignore this.
type CellWidth int

const (
	// CellWidth16 stores each cell in a uint16, wrapping silently on
	// overflow; HasOverflowed detects this a-posteriori.
	CellWidth16 CellWidth = 2
	// CellWidth32 stores each cell in a uint32.
	CellWidth32 CellWidth = 4
	// CellWidth64 stores each cell in an int64. This is the default.
	CellWidth64 CellWidth = 8
)

func newCounts(width CellWidth, length int32) (counts, error) {
	switch width {
	case CellWidth16:
		return &counts16{cells: make([]uint16, length)}, nil
	case CellWidth32:
		return &counts32{cells: make([]uint32, length)}, nil
	case CellWidth64, 0:
		return &counts64{cells: make([]int64, length)}, nil
	default:
		return nil, ErrInvalidConfig
	}
}

// counts16 is a fixed-width, non-atomic counts array. Overflow wraps
// silently per cell; the owning Histogram detects it a-posteriori by
// comparing a full cell scan against totalCount (see HasOverflowed).
type counts16 struct {
	cells []uint16
}

func (c *counts16) len() int32 { return int32(len(c.cells)) }
func (c *counts16) get(i int32) int64 { return int64(c.cells[i]) }
func (c *counts16) set(i int32, v int64) { c.cells[i] = uint16(v) }
func (c *counts16) add(i int32, delta int64) int64 {
	c.cells[i] += uint16(delta)
	return int64(c.cells[i])
}
func (c *counts16) clear() {
	for i := range c.cells {
		c.cells[i] = 0
	}
}
func (c *counts16) clone() counts {
	cp := make([]uint16, len(c.cells))
	copy(cp, c.cells)
	return &counts16{cells: cp}
}

// counts32 is a fixed-width, non-atomic counts array.
type counts32 struct {
	cells []uint32
}

func (c *counts32) len() int32 { return int32(len(c.cells)) }
func (c *counts32) get(i int32) int64 { return int64(c.cells[i]) }
func (c *counts32) set(i int32, v int64) { c.cells[i] = uint32(v) }
func (c *counts32) add(i int32, delta int64) int64 {
	c.cells[i] += uint32(delta)
	return int64(c.cells[i])
}
func (c *counts32) clear() {
	for i := range c.cells {
		c.cells[i] = 0
	}
}
func (c *counts32) clone() counts {
	cp := make([]uint32, len(c.cells))
	copy(cp, c.cells)
	return &counts32{cells: cp}
}

// counts64 is a full-width, non-atomic counts array. It never wraps in
// practice (2^63-1 recordings of a single value is not a realistic
// workload) but is not immune to overflow in principle.
type counts64 struct {
	cells []int64
}

func (c *counts64) len() int32 { return int32(len(c.cells)) }
func (c *counts64) get(i int32) int64 { return c.cells[i] }
func (c *counts64) set(i int32, v int64) { c.cells[i] = v }
func (c *counts64) add(i int32, delta int64) int64 {
	c.cells[i] += delta
	return c.cells[i]
}
func (c *counts64) clear() {
	for i := range c.cells {
		c.cells[i] = 0
	}
}
func (c *counts64) clone() counts {
	cp := make([]int64, len(c.cells))
	copy(cp, c.cells)
	return &counts64{cells: cp}
}

// atomicCounts is a 64-bit atomic counts array carrying a
// normalizingIndexOffset. A value logically at index i is physically
// stored at (i - offset) mod len(cells); shifting the offset rotates
// the entire array's interpretation in O(1) without touching a single
// cell.
type atomicCounts struct {
	cells  []int64
	offset atomic.Int64
}

func newAtomicCounts(length int32) *atomicCounts {
	return &atomicCounts{cells: make([]int64, length)}
}

func (c *atomicCounts) len() int32 { return int32(len(c.cells)) }

func (c *atomicCounts) normalize(index int32) int32 {
	n := int32(len(c.cells))
	idx := (index - int32(c.offset.Load())) % n
	if idx < 0 {
		idx += n
	}
	return idx
}

func (c *atomicCounts) get(index int32) int64 {
	return atomic.LoadInt64(&c.cells[c.normalize(index)])
}

func (c *atomicCounts) set(index int32, value int64) {
	atomic.StoreInt64(&c.cells[c.normalize(index)], value)
}

func (c *atomicCounts) add(index int32, delta int64) int64 {
	return atomic.AddInt64(&c.cells[c.normalize(index)], delta)
}

func (c *atomicCounts) clear() {
	for i := range c.cells {
		atomic.StoreInt64(&c.cells[i], 0)
	}
	c.offset.Store(0)
}

func (c *atomicCounts) clone() counts {
	cp := make([]int64, len(c.cells))
	for i := range c.cells {
		cp[i] = atomic.LoadInt64(&c.cells[i])
	}
	out := &atomicCounts{cells: cp}
	out.offset.Store(c.offset.Load())
	return out
}

// normalizingIndexOffset returns the array's current rotation offset.
func (c *atomicCounts) normalizingIndexOffset() int32 {
	return int32(c.offset.Load())
}

// setNormalizingIndexOffset sets the rotation offset directly, without
// touching any cell. Used by shift operations.
func (c *atomicCounts) setNormalizingIndexOffset(offset int32) {
	c.offset.Store(int64(offset))
}

// copyInto copies every cell of c into dst, honoring both arrays'
// normalizing offsets, so that logical index i in c lands at logical
// index i in dst. Used when growing a concurrent histogram's counts
// array.
func (c *atomicCounts) copyInto(dst *atomicCounts) {
	n := c.len()
	for i := int32(0); i < n; i++ {
		v := c.get(i)
		if v != 0 {
			dst.set(i, dst.get(i)+v)
		}
	}
}
