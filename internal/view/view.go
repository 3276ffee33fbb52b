package view

import (
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/slots"
	"github.com/nerolation/ethereum-interop-viz/internal/utils"
)

// Cell is one client's rendering of one displayed slot.
type Cell struct {
	Slot           uint64       `json:"slot"`
	Present        bool         `json:"present"`
	Status         slots.Status `json:"status,omitempty"`
	ProposerBoost  bool         `json:"proposer_boost"`
	SecondsInSlot  *float64     `json:"seconds_in_slot"`
	ObservedAt     *time.Time   `json:"observed_at,omitempty"`
	Hash           string       `json:"hash,omitempty"`
	ParentHash     string       `json:"parent_hash,omitempty"`
	HashFull       string       `json:"hash_full,omitempty"`
	ParentHashFull string       `json:"parent_hash_full,omitempty"`
	Diverged       bool         `json:"diverged"`
}

// fullHash returns the canonical 0x-prefixed form of a parseable hash and the
// raw value otherwise.
func fullHash(raw string) string {
	if h, ok := (slots.Observation{Hash: raw}).BlockHash(); ok {
		return h.Hex()
	}
	return raw
}

type Row struct {
	Client string `json:"client"`
	Label  string `json:"label"`
	Cells  []Cell `json:"cells"`
}

// Project fans displayed slots out into one row per visible client, in the
// order of visible. Clients without an observation in any displayed slot get
// no row.
func Project(display []slots.Slot, visible []string) []Row {
	diverged := make(map[uint64]bool, len(display))
	for _, s := range display {
		diverged[s.Number] = s.Diverged()
	}

	rows := make([]Row, 0, len(visible))
	for _, client := range visible {
		row := Row{Client: client, Label: utils.DisplayName(client), Cells: make([]Cell, 0, len(display))}
		seen := 0
		for _, s := range display {
			cell := Cell{Slot: s.Number, Diverged: diverged[s.Number]}
			if o, ok := s.Observation(client); ok {
				seen++
				cell.Present = true
				cell.Status = o.Status
				cell.ProposerBoost = o.ProposerBoost()
				cell.Hash = utils.ShortHash(o.Hash)
				cell.ParentHash = utils.ShortHash(o.ParentHash)
				cell.HashFull = fullHash(o.Hash)
				cell.ParentHashFull = fullHash(o.ParentHash)
				if at := o.ObservedAt(); !at.IsZero() {
					cell.ObservedAt = &at
				}
				if o.Timed {
					secs := o.SecondsInSlot
					cell.SecondsInSlot = &secs
				}
			}
			row.Cells = append(row.Cells, cell)
		}
		if seen == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Counts tallies one client's observations over a slot set.
type Counts struct {
	Client   string `json:"client"`
	Observed int    `json:"observed"`
	Produced int    `json:"produced"`
	Missed   int    `json:"missed"`
	Reorged  int    `json:"reorged"`
	Unknown  int    `json:"unknown"`
	Boosted  int    `json:"boosted"`
	Absent   int    `json:"absent"`
}

// MissedRatio is missed over observed, 0 with no observations.
func (c Counts) MissedRatio() float64 {
	if c.Observed == 0 {
		return 0
	}
	return float64(c.Missed) / float64(c.Observed)
}

// Summarize counts statuses per client over ss, in the order of clients.
func Summarize(ss []slots.Slot, clients []string) []Counts {
	out := make([]Counts, 0, len(clients))
	for _, client := range clients {
		c := Counts{Client: client}
		for _, s := range ss {
			o, ok := s.Observation(client)
			if !ok {
				c.Absent++
				continue
			}
			c.Observed++
			switch o.Status {
			case slots.StatusProduced:
				c.Produced++
			case slots.StatusMissed:
				c.Missed++
			case slots.StatusReorged:
				c.Reorged++
			default:
				c.Unknown++
			}
			if o.ProposerBoost() {
				c.Boosted++
			}
		}
		out = append(out, c)
	}
	return out
}

type DebugInfo struct {
	Network          string  `json:"network"`
	Total            int     `json:"total"`
	Displayed        int     `json:"displayed"`
	MinSlot          *uint64 `json:"min_slot"`
	MaxSlot          *uint64 `json:"max_slot"`
	HighestDisplayed *uint64 `json:"highest_displayed"`
	Span             uint64  `json:"span"`
}

func Debug(network string, all, display []slots.Slot) DebugInfo {
	d := DebugInfo{Network: network, Total: len(all), Displayed: len(display)}

	if lo, hi, ok := bounds(all); ok {
		d.MinSlot, d.MaxSlot = &lo, &hi
		d.Span = hi - lo
	}
	if _, hi, ok := bounds(display); ok {
		d.HighestDisplayed = &hi
	}
	return d
}

func bounds(ss []slots.Slot) (lo, hi uint64, ok bool) {
	for i, s := range ss {
		if i == 0 || s.Number < lo {
			lo = s.Number
		}
		if i == 0 || s.Number > hi {
			hi = s.Number
		}
	}
	return lo, hi, len(ss) > 0
}
