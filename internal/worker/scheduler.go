package worker

import (
	"sync"
	"time"
)

// TickerScheduler runs callbacks on real time.Tickers.
type TickerScheduler struct{}

// Schedule calls fn every interval on its own goroutine until stop is called.
// A tick that fires while fn is still running is dropped.
func (TickerScheduler) Schedule(interval time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
