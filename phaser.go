package hdrhistogram

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// phaser is a lock-free writer/reader epoch barrier. It lets a single
// reader detect quiescence of any number of concurrent writers without
// ever blocking them.
//
// The parity and per-generation entry count are packed into one
// atomic.Uint64 (top bit = parity, remaining bits = entries admitted
// under the currently-accepted parity) so that a writer's
// read-parity-then-increment is a single compare-and-swap, atomic
// with respect to a concurrent flipPhase toggling the parity.
type phaser struct {
	state     atomic.Uint64
	endEven   atomic.Int64
	endOdd    atomic.Int64
	readerMu  sync.Mutex
}

const phaserParityBit = uint64(1) << 63

// writerCriticalSectionEnter must be called before touching any
// quiescence-sensitive state. It returns a token that must be passed
// to writerCriticalSectionExit exactly once. It never blocks.
func (p *phaser) writerCriticalSectionEnter() uint64 {
	for {
		old := p.state.Load()
		parity := old & phaserParityBit
		count := old &^ phaserParityBit
		next := parity | (count + 1)
		if p.state.CompareAndSwap(old, next) {
			return parity
		}
	}
}

// writerCriticalSectionExit must be called exactly once, with the
// token returned by the matching writerCriticalSectionEnter, when the
// writer is done touching quiescence-sensitive state.
func (p *phaser) writerCriticalSectionExit(token uint64) {
	if token == 0 {
		p.endEven.Add(1)
	} else {
		p.endOdd.Add(1)
	}
}

// readerLock enforces single-reader access around a flip/swap
// sequence. Callers that only call flipPhase without also swapping
// shared state don't strictly need it, but every call site in this
// package holds it for the whole swap+flip sequence.
func (p *phaser) readerLock()   { p.readerMu.Lock() }
func (p *phaser) readerUnlock() { p.readerMu.Unlock() }

// flipPhase toggles the accepted parity so that new writers are
// counted in the other generation, then busy-waits (sleeping
// yieldInterval between checks, or yielding the scheduler if
// yieldInterval is 0) until every writer that entered under the
// previous parity has exited. After flipPhase returns, no writer
// critical section that began before the flip is still in-flight.
func (p *phaser) flipPhase(yieldInterval time.Duration) {
	var oldParity, oldCount uint64
	for {
		old := p.state.Load()
		oldParity = old & phaserParityBit
		oldCount = old &^ phaserParityBit
		newParity := oldParity ^ phaserParityBit
		if p.state.CompareAndSwap(old, newParity) {
			break
		}
	}

	endCounter := &p.endEven
	if oldParity != 0 {
		endCounter = &p.endOdd
	}
	for uint64(endCounter.Load()) < oldCount {
		if yieldInterval <= 0 {
			runtime.Gosched()
		} else {
			time.Sleep(yieldInterval)
		}
	}
	// Every writer that could ever contribute to this counter has now
	// exited, and no writer can join this parity again until it is
	// re-accepted two flips from now (with its entry count likewise
	// starting fresh at 0) — so it's safe to reset it for reuse instead
	// of comparing against an ever-growing cumulative total.
	endCounter.Store(0)
}
