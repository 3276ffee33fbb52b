package view

import (
	"testing"
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/slots"
)

const (
	hashA = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashB = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func fixture() []slots.Slot {
	return []slots.Slot{
		{Number: 10, ByClient: map[string]slots.Observation{
			"teku":  {Slot: 10, Client: "teku", Status: slots.StatusProduced, Hash: hashA, SecondsInSlot: 2, Timed: true},
			"prysm": {Slot: 10, Client: "prysm", Status: slots.StatusProduced, Hash: hashB, SecondsInSlot: 5, Timed: true},
		}},
		{Number: 11, ByClient: map[string]slots.Observation{
			"teku": {Slot: 11, Client: "teku", Status: slots.StatusMissed},
		}},
	}
}

func TestProject(t *testing.T) {
	rows := Project(fixture(), []string{"lighthouse", "prysm", "teku"})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (lighthouse has no data)", len(rows))
	}
	if rows[0].Client != "prysm" || rows[1].Client != "teku" || rows[1].Label != "Teku" {
		t.Errorf("row order = %s, %s", rows[0].Client, rows[1].Client)
	}

	prysm := rows[0].Cells
	if len(prysm) != 2 || !prysm[0].Present || prysm[1].Present {
		t.Fatalf("prysm cells = %+v", prysm)
	}
	if prysm[0].ProposerBoost {
		t.Error("5s observation must not be boosted")
	}
	if !prysm[0].Diverged {
		t.Error("slot 10 has conflicting hashes")
	}

	teku := rows[1].Cells
	if !teku[0].ProposerBoost || *teku[0].SecondsInSlot != 2 {
		t.Errorf("teku slot 10 = %+v", teku[0])
	}
	if teku[1].SecondsInSlot != nil || teku[1].ProposerBoost {
		t.Errorf("untimed cell = %+v", teku[1])
	}
}

func TestProject_TooltipFields(t *testing.T) {
	data := []slots.Slot{{Number: 12, ByClient: map[string]slots.Observation{
		"teku": {
			Slot: 12, Client: "teku", Status: slots.StatusProduced,
			Hash: hashA, ParentHash: hashB[2:],
			TimestampSeconds: 1714557602500, SecondsInSlot: 2.5, Timed: true,
		},
		"prysm": {Slot: 12, Client: "prysm", Status: slots.StatusMissed},
	}}}

	rows := Project(data, []string{"prysm", "teku"})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	teku := rows[1].Cells[0]
	if teku.HashFull != hashA || teku.ParentHashFull != hashB {
		t.Errorf("full hashes = %q, %q", teku.HashFull, teku.ParentHashFull)
	}
	if teku.Hash == teku.HashFull {
		t.Errorf("short hash not shortened: %q", teku.Hash)
	}
	want := time.Date(2024, 5, 1, 10, 0, 2, 500_000_000, time.UTC)
	if teku.ObservedAt == nil || !teku.ObservedAt.Equal(want) {
		t.Errorf("observed_at = %v, want %v", teku.ObservedAt, want)
	}

	prysm := rows[0].Cells[0]
	if prysm.ObservedAt != nil || prysm.HashFull != "" || prysm.ParentHashFull != "" {
		t.Errorf("missed cell = %+v", prysm)
	}
}

func TestProject_HiddenClients(t *testing.T) {
	if rows := Project(fixture(), nil); len(rows) != 0 {
		t.Errorf("rows with nothing visible = %d", len(rows))
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(fixture(), []string{"teku", "nimbus"})
	teku := got[0]
	if teku.Observed != 2 || teku.Produced != 1 || teku.Missed != 1 || teku.Boosted != 1 {
		t.Errorf("teku = %+v", teku)
	}
	if teku.MissedRatio() != 0.5 {
		t.Errorf("missed ratio = %v", teku.MissedRatio())
	}
	if got[1].Absent != 2 || got[1].MissedRatio() != 0 {
		t.Errorf("nimbus = %+v", got[1])
	}
}

func TestDebug(t *testing.T) {
	all := fixture()
	d := Debug("mainnet", all, all[1:])
	if d.Total != 2 || d.Displayed != 1 || *d.MinSlot != 10 || *d.MaxSlot != 11 || *d.HighestDisplayed != 11 || d.Span != 1 {
		t.Errorf("debug = %+v", d)
	}

	empty := Debug("sepolia", nil, nil)
	if empty.MinSlot != nil || empty.HighestDisplayed != nil {
		t.Errorf("empty debug = %+v", empty)
	}
}
