package hdrhistogram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaserFlipWaitsForInFlightWriters(t *testing.T) {
	t.Parallel()
	p := &phaser{}

	token := p.writerCriticalSectionEnter()
	flipped := make(chan struct{})
	go func() {
		p.flipPhase(time.Millisecond)
		close(flipped)
	}()

	select {
	case <-flipped:
		t.Fatal("flipPhase returned before the in-flight writer exited")
	case <-time.After(20 * time.Millisecond):
	}

	p.writerCriticalSectionExit(token)
	select {
	case <-flipped:
	case <-time.After(time.Second):
		t.Fatal("flipPhase never returned after the writer exited")
	}
}

// TestPhaserSurvivesManyCycles exercises the per-generation counter reset:
// a phaser that accumulated a large cumulative exit count in one parity
// must still correctly drain a small number of writers the next time that
// same parity becomes active, rather than believing it's already drained.
func TestPhaserSurvivesManyCycles(t *testing.T) {
	t.Parallel()
	p := &phaser{}

	for cycle := 0; cycle < 20; cycle++ {
		var wg sync.WaitGroup
		tokens := make(chan uint64, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok := p.writerCriticalSectionEnter()
				tokens <- tok
			}()
		}
		wg.Wait()
		close(tokens)
		for tok := range tokens {
			p.writerCriticalSectionExit(tok)
		}
		p.flipPhase(time.Microsecond)
	}

	// One final writer must still be correctly drained.
	token := p.writerCriticalSectionEnter()
	done := make(chan struct{})
	go func() {
		p.flipPhase(time.Microsecond)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("flipPhase returned before the final writer exited")
	case <-time.After(20 * time.Millisecond):
	}
	p.writerCriticalSectionExit(token)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flipPhase never drained the final generation")
	}
}

func TestPhaserReaderLockSerializes(t *testing.T) {
	t.Parallel()
	p := &phaser{}
	var active int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.readerLock()
			defer p.readerUnlock()
			mu.Lock()
			active++
			cur := active
			mu.Unlock()
			assert.Equal(t, int32(1), cur)
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
}
