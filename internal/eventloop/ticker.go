package eventloop

import (
	"sync"
	"time"
)

// Ticker is a Source that calls fn on the loop every interval.
type Ticker struct {
	interval time.Duration
	fn       func(now time.Time) bool

	once   sync.Once
	stop   chan struct{}
	ticker *time.Ticker
	mu     sync.Mutex
}

func NewTicker(interval time.Duration, fn func(now time.Time)) *Ticker {
	return NewTickerUntil(interval, func(now time.Time) bool {
		fn(now)
		return true
	})
}

// NewTickerUntil is like NewTicker, but the ticker is removed from the loop
// once fn returns false.
func NewTickerUntil(interval time.Duration, fn func(now time.Time) bool) *Ticker {
	return &Ticker{interval: interval, fn: fn, stop: make(chan struct{})}
}

func (t *Ticker) Attach(wake func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.interval)

	go func(c <-chan time.Time) {
		for {
			select {
			case <-c:
				wake()
			case <-t.stop:
				return
			}
		}
	}(t.ticker.C)
}

func (t *Ticker) Dispatch() bool {
	return t.fn(time.Now())
}

func (t *Ticker) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		if t.ticker != nil {
			t.ticker.Stop()
		}
		t.mu.Unlock()
		close(t.stop)
	})
	return nil
}
