package poller

import (
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/slots"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
)

// View is an immutable snapshot of the poller for the selected network,
// published after every handled event.
type View struct {
	Network      string
	Generation   uint64
	Phase        Phase
	Err          error
	BatchID      uint64
	FetchedAt    time.Time
	LastSuccess  time.Time
	AllSlots     []slots.Slot
	DisplaySlots []slots.Slot
	WindowSize   int
	WindowMax    int
	NextDue      time.Time
	Interval     time.Duration
}

// Refreshing reports whether a fetch for the selected network is in flight.
func (v View) Refreshing() bool {
	return v.Phase == PhaseFetching
}

// Countdown returns the seconds until the next scheduled fetch as of now.
func (v View) Countdown(now time.Time) int {
	return countdown(v.NextDue, now, v.Interval)
}
