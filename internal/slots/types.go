package slots

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProposerBoostCutoff is the seconds-into-slot bound under which a block is
// treated as seen early enough for proposer boost.
const ProposerBoostCutoff = 4.0

type Status string

const (
	StatusProduced Status = "produced"
	StatusMissed   Status = "missed"
	StatusReorged  Status = "reorged"
	StatusUnknown  Status = "unknown"
)

// ParseStatus normalizes a wire status; anything unrecognised is StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusProduced:
		return StatusProduced
	case StatusMissed:
		return StatusMissed
	case StatusReorged:
		return StatusReorged
	default:
		return StatusUnknown
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = StatusUnknown
		return nil
	}
	*s = ParseStatus(*raw)
	return nil
}

// Observation is one client's view of one slot.
type Observation struct {
	Slot             uint64  `json:"slot"`
	Network          string  `json:"network"`
	Client           string  `json:"client"`
	Timestamp        string  `json:"timestamp"`
	Status           Status  `json:"status"`
	Hash             string  `json:"hash,omitempty"`
	ParentHash       string  `json:"parent_hash,omitempty"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	SecondsInSlot    float64 `json:"seconds_in_slot"`

	// Timed is false when the backend had no seconds_in_slot for this observation.
	Timed bool `json:"-"`
}

type wireObservation struct {
	Slot             *uint64  `json:"slot"`
	Network          string   `json:"network"`
	Client           string   `json:"client"`
	Timestamp        string   `json:"timestamp"`
	Status           Status   `json:"status"`
	Hash             *string  `json:"hash"`
	ParentHash       *string  `json:"parent_hash"`
	TimestampSeconds *float64 `json:"timestamp_seconds"`
	SecondsInSlot    *float64 `json:"seconds_in_slot"`
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	w := wireObservation{Status: StatusUnknown}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*o = Observation{
		Network:   w.Network,
		Client:    w.Client,
		Timestamp: w.Timestamp,
		Status:    w.Status,
	}
	if o.Status == "" {
		o.Status = StatusUnknown
	}
	if w.Slot != nil {
		o.Slot = *w.Slot
	}
	if w.Hash != nil {
		o.Hash = *w.Hash
	}
	if w.ParentHash != nil {
		o.ParentHash = *w.ParentHash
	}
	if w.TimestampSeconds != nil {
		o.TimestampSeconds = *w.TimestampSeconds
	}
	if w.SecondsInSlot != nil && !math.IsNaN(*w.SecondsInSlot) {
		o.SecondsInSlot = math.Max(0, *w.SecondsInSlot)
		o.Timed = true
	}
	return nil
}

// ProposerBoost reports whether the observation landed inside the boost window.
// It only drives presentation and is never stored.
func (o Observation) ProposerBoost() bool {
	return o.Timed && o.SecondsInSlot < ProposerBoostCutoff
}

// epochMillisFloor separates epoch milliseconds from epoch seconds: as
// seconds it lies in the year 5138, as milliseconds in 1973.
const epochMillisFloor = 1e11

// ObservedAt returns the wall clock time the client saw the slot, preferring
// timestamp_seconds over the textual timestamp. Despite its name the backend
// fills timestamp_seconds with epoch milliseconds; epoch seconds are accepted
// too.
func (o Observation) ObservedAt() time.Time {
	if ts := o.TimestampSeconds; ts > 0 {
		if ts >= epochMillisFloor {
			return time.UnixMilli(int64(math.Round(ts))).UTC()
		}
		sec, frac := math.Modf(ts)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, o.Timestamp); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// BlockHash parses Hash as a 32-byte hex hash.
func (o Observation) BlockHash() (common.Hash, bool) {
	return parseHash(o.Hash)
}

// ParentBlockHash parses ParentHash as a 32-byte hex hash.
func (o Observation) ParentBlockHash() (common.Hash, bool) {
	return parseHash(o.ParentHash)
}

func parseHash(s string) (common.Hash, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, false
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// Slot aggregates every client's observation for one slot number of one network.
// A client without an observation is absent from ByClient.
type Slot struct {
	Number   uint64                 `json:"slot"`
	ByClient map[string]Observation `json:"data"`
}

// Observation returns the observation reported by client, if any.
func (s Slot) Observation(client string) (Observation, bool) {
	o, ok := s.ByClient[client]
	return o, ok
}

// Diverged reports whether produced observations disagree on the block hash.
func (s Slot) Diverged() bool {
	var first common.Hash
	seen := false
	for _, o := range s.ByClient {
		if o.Status != StatusProduced {
			continue
		}
		h, ok := o.BlockHash()
		if !ok {
			continue
		}
		if !seen {
			first, seen = h, true
			continue
		}
		if h != first {
			return true
		}
	}
	return false
}

// Batch is the versioned result of one successful poll for one network.
type Batch struct {
	ID        uint64    `json:"id"`
	Network   string    `json:"network"`
	FetchedAt time.Time `json:"fetched_at"`
	Slots     []Slot    `json:"slots"`
}

// Numbers returns the slot numbers of slots in the order given.
func Numbers(ss []Slot) []uint64 {
	out := make([]uint64, len(ss))
	for i, s := range ss {
		out[i] = s.Number
	}
	return out
}
