package slots

import "fmt"

// WireSlot is the shape returned by GET /api/slots/{network}. Entries may be
// null, which Normalize treats as absent.
type WireSlot struct {
	Slot uint64                  `json:"slot"`
	Data map[string]*Observation `json:"data"`
}

// Normalize converts wire slots into Slots for network, enforcing that every
// observation matches its slot number and network. Empty fields are filled from
// context, contradicting observations and duplicate slot numbers are dropped
// and described in issues.
func Normalize(network string, raw []WireSlot) (out []Slot, issues []string) {
	seen := make(map[uint64]bool, len(raw))
	out = make([]Slot, 0, len(raw))

	for _, ws := range raw {
		if seen[ws.Slot] {
			issues = append(issues, fmt.Sprintf("duplicate slot %d ignored", ws.Slot))
			continue
		}
		seen[ws.Slot] = true

		s := Slot{Number: ws.Slot, ByClient: make(map[string]Observation, len(ws.Data))}
		for client, o := range ws.Data {
			if o == nil {
				continue
			}
			obs := *o
			if obs.Client == "" {
				obs.Client = client
			}
			if obs.Network == "" {
				obs.Network = network
			}
			if obs.Slot == 0 {
				obs.Slot = ws.Slot
			}
			if obs.Slot != ws.Slot || obs.Network != network || obs.Client != client {
				issues = append(issues, fmt.Sprintf("slot %d: observation from %q does not match (slot=%d network=%s client=%s)",
					ws.Slot, client, obs.Slot, obs.Network, obs.Client))
				continue
			}
			s.ByClient[client] = obs
		}
		out = append(out, s)
	}
	return out, issues
}
