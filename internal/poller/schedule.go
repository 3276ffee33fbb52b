package poller

import (
	"math"
	"time"
)

// schedule is the fetch cadence. The countdown shown to users is derived from
// next and never drives it.
type schedule struct {
	interval time.Duration
	next     time.Time
}

func (s *schedule) reset(now time.Time) {
	s.next = now.Add(s.interval)
}

func (s *schedule) due(now time.Time) bool {
	return !s.next.IsZero() && !now.Before(s.next)
}

// countdown returns the whole seconds until next, rounded up and bounded to
// [0, interval].
func countdown(next, now time.Time, interval time.Duration) int {
	if next.IsZero() {
		return 0
	}
	rem := next.Sub(now)
	if rem <= 0 {
		return 0
	}
	secs := int(math.Ceil(rem.Seconds()))
	if limit := int(math.Ceil(interval.Seconds())); secs > limit {
		secs = limit
	}
	return secs
}
