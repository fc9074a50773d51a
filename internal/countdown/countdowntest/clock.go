// Package countdowntest provides a manually driven clock for countdown tests.
package countdowntest

import (
	"sync"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/countdown"
)

// Clock hands out tickers that only fire when Tick is called
type Clock struct {
	mu      sync.Mutex
	tickers []*Ticker
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) NewTicker(d time.Duration) countdown.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &Ticker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tickers returns the number of tickers created so far
func (c *Clock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Stopped reports whether the most recent ticker has been stopped
func (c *Clock) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.tickers); n > 0 {
		return c.tickers[n-1].Stopped()
	}
	return true
}

// Tick fires the most recent ticker once and waits until the tick has been
// received. It returns false if there is no live ticker.
func (c *Clock) Tick() bool {
	c.mu.Lock()
	var tk *Ticker
	if n := len(c.tickers); n > 0 {
		tk = c.tickers[n-1]
	}
	c.mu.Unlock()

	if tk == nil {
		return false
	}
	select {
	case tk.c <- time.Now():
		return true
	case <-tk.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// Advance ticks n times, stopping early when the ticker goes away
func (c *Clock) Advance(n int) int {
	fired := 0
	for i := 0; i < n; i++ {
		if !c.Tick() {
			break
		}
		fired++
	}
	return fired
}

// Ticker is a manual countdown.Ticker
type Ticker struct {
	c        chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

func (t *Ticker) C() <-chan time.Time { return t.c }

func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Stopped reports whether Stop has been called
func (t *Ticker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
