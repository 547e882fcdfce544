package dispatch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DispatchInterval is the global dispatch floor for n active transports:
// one request every 60/n + 1 seconds. This is not a per-transport limit;
// it holds even with a single transport.
func DispatchInterval(n int) time.Duration {
	return time.Duration(float64(time.Minute)/float64(n)) + time.Second
}

// Pacer spaces dispatches on a monotonic clock. The first Wait returns
// immediately; every later Wait blocks until the interval has elapsed
// since the previous dispatch.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer builds the pacer for n active transports.
func NewPacer(n int) *Pacer {
	return newPacer(DispatchInterval(n))
}

func newPacer(interval time.Duration) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next dispatch may begin or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
