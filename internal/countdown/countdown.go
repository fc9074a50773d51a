package countdown

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSeconds is used when a question carries no usable estimate
const DefaultSeconds = 90

// Ticker delivers ticks until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. Tests substitute a manual clock.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// RealClock is backed by time.Ticker
type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Seconds returns the effective countdown length for an estimate
func Seconds(estimated int) int {
	if estimated <= 0 {
		return DefaultSeconds
	}
	return estimated
}

// Timer is a per-question countdown with 1-second resolution
type Timer struct {
	clock Clock

	mu     sync.Mutex
	cancel chan struct{}
}

// New creates a timer; a nil clock means RealClock
func New(clock Clock) *Timer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Timer{clock: clock}
}

// Arm starts counting down from seconds. onTick receives the remaining
// seconds after every tick (down to 0), then onExpire runs once.
// Arming again disarms the previous countdown.
func (t *Timer) Arm(seconds int, onTick func(remaining int), onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarmLocked()

	cancel := make(chan struct{})
	t.cancel = cancel
	ticker := t.clock.NewTicker(time.Second)

	slog.Debug("Countdown armed", "seconds", seconds)
	go run(seconds, ticker, cancel, onTick, onExpire)
}

// Disarm cancels pending ticks. It does not wait for a callback that is
// already executing.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

// Armed reports whether a countdown is pending
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Timer) disarmLocked() {
	if t.cancel == nil {
		return
	}
	close(t.cancel)
	t.cancel = nil
}

func run(seconds int, ticker Ticker, cancel <-chan struct{}, onTick func(int), onExpire func()) {
	defer ticker.Stop()

	remaining := seconds
	if remaining <= 0 {
		if !cancelled(cancel) && onExpire != nil {
			onExpire()
		}
		return
	}

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C():
			if cancelled(cancel) {
				return
			}
			remaining--
			if onTick != nil {
				onTick(remaining)
			}
			if remaining <= 0 {
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}
}

func cancelled(cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
