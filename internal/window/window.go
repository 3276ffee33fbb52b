package window

import (
	"sort"
	"sync"
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/slots"
)

// Reduce returns the size slots with the highest numbers, ascending. The input
// is not modified.
func Reduce(all []slots.Slot, size int) []slots.Slot {
	if size <= 0 || len(all) == 0 {
		return []slots.Slot{}
	}

	sorted := append([]slots.Slot(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number > sorted[j].Number })
	if size < len(sorted) {
		sorted = sorted[:size]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	return sorted
}

// ClampSize bounds requested to [1, min(max, available)], or 0 when nothing is
// available.
func ClampSize(requested, available, max int) int {
	bound := available
	if max > 0 && max < bound {
		bound = max
	}
	if bound <= 0 {
		return 0
	}
	if requested < 1 {
		return 1
	}
	if requested > bound {
		return bound
	}
	return requested
}

// State is the window over the latest batch of one network.
type State struct {
	mu          sync.RWMutex
	defaultSize int
	maxSize     int
	size        int
	batch       slots.Batch
	applied     bool
	display     []slots.Slot
}

type Snapshot struct {
	BatchID   uint64       `json:"batch_id"`
	FetchedAt time.Time    `json:"fetched_at"`
	Size      int          `json:"window_size"`
	MaxSize   int          `json:"window_max"`
	Total     int          `json:"total"`
	All       []slots.Slot `json:"-"`
	Display   []slots.Slot `json:"display_slots"`
	HasBatch  bool         `json:"has_batch"`
}

// NewState creates an empty window. defaultSize is used before the first
// batch and whenever a batch arrives after an empty one.
func NewState(defaultSize, maxSize int) *State {
	if maxSize <= 0 {
		maxSize = 20
	}
	if defaultSize <= 0 {
		defaultSize = 5
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &State{
		defaultSize: defaultSize,
		maxSize:     maxSize,
		size:        defaultSize,
		display:     []slots.Slot{},
	}
}

// Apply replaces the slots wholesale with b. A batch older than the one
// already applied is rejected and Apply returns false.
func (s *State) Apply(b slots.Batch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied && b.ID < s.batch.ID {
		return false
	}

	size := s.size
	if size == 0 {
		size = s.defaultSize
	}
	s.batch = b
	s.applied = true
	s.size = ClampSize(size, len(b.Slots), s.maxSize)
	s.display = Reduce(b.Slots, s.size)
	return true
}

// SetSize applies a user requested size, re-clamped to the current bound.
// Before any batch arrives the request is kept as the starting size.
func (s *State) SetSize(requested int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.applied {
		s.size = ClampSize(requested, s.maxSize, s.maxSize)
		return s.size
	}
	s.size = ClampSize(requested, len(s.batch.Slots), s.maxSize)
	s.display = Reduce(s.batch.Slots, s.size)
	return s.size
}

func (s *State) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Max returns the current upper bound for the size.
func (s *State) Max() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.applied {
		return s.maxSize
	}
	return ClampSize(s.maxSize, len(s.batch.Slots), s.maxSize)
}

// Display returns the windowed slots in ascending order.
func (s *State) Display() []slots.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.display)
}

func (s *State) Batch() (slots.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch, s.applied
}

func (s *State) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := s.maxSize
	if s.applied {
		max = ClampSize(s.maxSize, len(s.batch.Slots), s.maxSize)
	}
	return Snapshot{
		BatchID:   s.batch.ID,
		FetchedAt: s.batch.FetchedAt,
		Size:      s.size,
		MaxSize:   max,
		Total:     len(s.batch.Slots),
		All:       clone(s.batch.Slots),
		Display:   clone(s.display),
		HasBatch:  s.applied,
	}
}

func clone(ss []slots.Slot) []slots.Slot {
	out := make([]slots.Slot, len(ss))
	copy(out, ss)
	return out
}
