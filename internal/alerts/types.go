package alerts

import "time"

type RuleID string

const (
	RuleSlotFetchFailing  RuleID = "slot_fetch_failing"
	RuleClientAbsent      RuleID = "client_absent"
	RuleClientMissedRatio RuleID = "client_missed_ratio"
)

type SubjectType string

const (
	SubjectNetwork SubjectType = "network"
	SubjectClient  SubjectType = "client"
)

type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

type AlertEvent struct {
	Key         string
	RuleID      RuleID
	SubjectType SubjectType
	SubjectID   string
	SubjectName string
	Network     string
	Status      AlertStatus
	Severity    string
	Title       string
	Message     string
	Details     []AlertDetail
	Timestamp   time.Time
	// URL links to the dashboard, empty when not configured.
	URL string
}

type AlertDetail struct {
	Label string
	Value string
}

// AlertStateItem tracks one condition from first observation until it
// resolves. LastEventAt is set once the firing event was sent.
type AlertStateItem struct {
	Key          string      `json:"key"`
	RuleID       RuleID      `json:"rule_id"`
	SubjectType  SubjectType `json:"subject_type"`
	SubjectID    string      `json:"subject_id"`
	Network      string      `json:"network"`
	Status       AlertStatus `json:"status"`
	FiringSince  time.Time   `json:"firing_since"`
	LastObserved time.Time   `json:"last_observed_at"`
	LastEventAt  time.Time   `json:"last_event_at"`
}
