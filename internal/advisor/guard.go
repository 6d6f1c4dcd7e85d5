package advisor

import (
	"fmt"
	"sync/atomic"

	"github.com/juju/ratelimit"
	"github.com/opifices/opit/internal/logger"
)

// Guard calls an Advisor on a best-effort basis.
// Calls above the configured rate are dropped. Errors and panics of the advisor are logged.
type Guard struct {
	advisor Advisor
	bucket  *ratelimit.Bucket
	log     logger.Logger

	calls   atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewGuard returns a new Guard that calls a at most rate times per second.
func NewGuard(a Advisor, rate float64, l logger.Logger) *Guard {
	return &Guard{
		advisor: a,
		bucket:  ratelimit.NewBucketWithRate(rate, 1),
		log:     l,
	}
}

// Notify passes u to the wrapped Advisor unless the rate limit is exceeded.
func (g *Guard) Notify(u Update) {
	if g.bucket.TakeAvailable(1) == 0 {
		g.dropped.Add(1)
		return
	}
	g.calls.Add(1)
	if err := g.call(u); err != nil {
		g.failed.Add(1)
		g.log.Errorln("advisor failed:", err.Error())
	}
}

func (g *Guard) call(u Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("advisor panic: %v", r)
		}
	}()
	return g.advisor.Advise(u)
}

// GuardStats contains counters of a Guard.
type GuardStats struct {
	Calls   int64
	Dropped int64
	Failed  int64
}

// Stats returns the counters of g.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Calls:   g.calls.Load(),
		Dropped: g.dropped.Load(),
		Failed:  g.failed.Load(),
	}
}
