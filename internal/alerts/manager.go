package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/poller"
	"github.com/nerolation/ethereum-interop-viz/internal/utils"
	"github.com/nerolation/ethereum-interop-viz/internal/view"
)

type ViewSource interface {
	View() poller.View
}

type ClientLister interface {
	List() []string
}

type Manager struct {
	cfg      config.AlertsConfig
	views    ViewSource
	clients  ClientLister
	notifier Notifier
	clock    clock.Clock
	alerts   map[string]AlertStateItem
	outbox   []AlertEvent
	mu       sync.Mutex
}

// networkSnapshot is what the rules see of the selected network at one check.
type networkSnapshot struct {
	Network  string
	Err      error
	HasBatch bool
	BatchID  uint64
	Slots    int
	MinSlot  uint64
	MaxSlot  uint64
	Counts   []view.Counts
}

func NewManager(cfg config.AlertsConfig, views ViewSource, clients ClientLister, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:      cfg,
		views:    views,
		clients:  clients,
		notifier: NewNotifier(cfg),
		clock:    clk,
		alerts:   make(map[string]AlertStateItem),
	}
}

func (m *Manager) Start(ctx context.Context) {
	interval := config.ParseDuration(m.cfg.CheckInterval)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := m.clock.Ticker(interval)
	go func() {
		m.checkRules(ctx)

		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				m.checkRules(ctx)
			}
		}
	}()
}

// Active returns the conditions currently tracked, sorted by key.
func (m *Manager) Active() []AlertStateItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AlertStateItem, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *Manager) checkRules(ctx context.Context) {
	v := m.views.View()
	if v.Network == "" {
		return
	}
	m.checkWithSnapshot(ctx, m.clock.Now(), m.snapshot(v))
}

func (m *Manager) snapshot(v poller.View) networkSnapshot {
	var ids []string
	if m.clients != nil {
		ids = m.clients.List()
	}
	d := view.Debug(v.Network, v.AllSlots, v.DisplaySlots)
	snap := networkSnapshot{
		Network:  v.Network,
		Err:      v.Err,
		HasBatch: v.BatchID > 0,
		BatchID:  v.BatchID,
		Slots:    len(v.AllSlots),
		Counts:   view.Summarize(v.AllSlots, ids),
	}
	if d.MinSlot != nil {
		snap.MinSlot, snap.MaxSlot = *d.MinSlot, *d.MaxSlot
	}
	return snap
}

// checkWithSnapshot evaluates every enabled rule under mu. Events are
// delivered after mu is released.
func (m *Manager) checkWithSnapshot(ctx context.Context, now time.Time, snap networkSnapshot) {
	m.mu.Lock()
	m.releaseOtherNetworks(now, snap.Network)

	if m.cfg.Rules.FetchFailing.Enabled() {
		m.checkFetchFailing(now, m.cfg.Rules.FetchFailing.FireDuration(), snap)
	}
	if m.cfg.Rules.ClientAbsent.Enabled() {
		m.checkClientAbsent(now, m.cfg.Rules.ClientAbsent.FireDuration(), snap)
	}
	if m.cfg.Rules.ClientMissedRatio.Enabled() {
		m.checkClientMissedRatio(now, m.cfg.Rules.ClientMissedRatio.ThresholdPercent(), snap)
	}
	events := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, event := range events {
		if err := m.notifier.Notify(ctx, event); err != nil {
			logger.Warn("ALERT", "Failed to send %s alert: %v", event.RuleID, err)
		}
	}
}

func (m *Manager) checkFetchFailing(now time.Time, fireAfter time.Duration, snap networkSnapshot) {
	key := fmt.Sprintf("slot_fetch_failing:%s", snap.Network)
	state, exists := m.alerts[key]
	name := utils.DisplayName(snap.Network)

	if snap.Err != nil {
		if !exists {
			m.alerts[key] = AlertStateItem{
				Key:          key,
				RuleID:       RuleSlotFetchFailing,
				SubjectType:  SubjectNetwork,
				SubjectID:    snap.Network,
				Network:      snap.Network,
				Status:       AlertFiring,
				FiringSince:  now,
				LastObserved: now,
			}
			return
		}
		state.LastObserved = now
		m.alerts[key] = state

		if now.Sub(state.FiringSince) >= fireAfter && state.LastEventAt.IsZero() {
			failingFor := now.Sub(state.FiringSince).Round(time.Second)
			m.emit(AlertEvent{
				Key:         key,
				RuleID:      RuleSlotFetchFailing,
				SubjectType: SubjectNetwork,
				SubjectID:   snap.Network,
				SubjectName: name,
				Network:     snap.Network,
				Status:      AlertFiring,
				Severity:    "warning",
				Title:       "Slot Fetch Failing",
				Message:     fmt.Sprintf("Slot data for %s has been unavailable for %v: %v", name, failingFor, snap.Err),
				Details: []AlertDetail{
					{Label: "Failing", Value: fmt.Sprintf("for %s", failingFor)},
					{Label: "Last Error", Value: snap.Err.Error()},
				},
				Timestamp: now,
			})
			state.LastEventAt = now
			m.alerts[key] = state
		}
		return
	}

	if exists {
		if !state.LastEventAt.IsZero() {
			total := now.Sub(state.FiringSince).Round(time.Second)
			m.emit(AlertEvent{
				Key:         key,
				RuleID:      RuleSlotFetchFailing,
				SubjectType: SubjectNetwork,
				SubjectID:   snap.Network,
				SubjectName: name,
				Network:     snap.Network,
				Status:      AlertResolved,
				Severity:    "info",
				Title:       "Slot Fetch Recovered",
				Message:     fmt.Sprintf("Slot data for %s recovered after %v", name, total),
				Details: []AlertDetail{
					{Label: "Failing", Value: fmt.Sprintf("%s → recovered", total)},
				},
				Timestamp: now,
			})
		}
		delete(m.alerts, key)
	}
}

func (m *Manager) checkClientAbsent(now time.Time, fireAfter time.Duration, snap networkSnapshot) {
	if !snap.HasBatch {
		return
	}

	for _, c := range snap.Counts {
		key := fmt.Sprintf("client_absent:%s:%s", snap.Network, c.Client)
		state, exists := m.alerts[key]
		name := utils.DisplayName(c.Client)

		if c.Observed == 0 && snap.Slots > 0 {
			if !exists {
				m.alerts[key] = AlertStateItem{
					Key:          key,
					RuleID:       RuleClientAbsent,
					SubjectType:  SubjectClient,
					SubjectID:    c.Client,
					Network:      snap.Network,
					Status:       AlertFiring,
					FiringSince:  now,
					LastObserved: now,
				}
				continue
			}
			state.LastObserved = now
			m.alerts[key] = state

			if now.Sub(state.FiringSince) >= fireAfter && state.LastEventAt.IsZero() {
				absentFor := now.Sub(state.FiringSince).Round(time.Second)
				m.emit(AlertEvent{
					Key:         key,
					RuleID:      RuleClientAbsent,
					SubjectType: SubjectClient,
					SubjectID:   c.Client,
					SubjectName: name,
					Network:     snap.Network,
					Status:      AlertFiring,
					Severity:    "warning",
					Title:       "Client Not Reporting",
					Message:     fmt.Sprintf("%s has reported none of the last %d %s slots for %v", name, snap.Slots, snap.Network, absentFor),
					Details: append([]AlertDetail{
						{Label: "Absent", Value: fmt.Sprintf("%d/%d slots", c.Absent, snap.Slots)},
					}, batchDetails(snap)...),
					Timestamp: now,
				})
				state.LastEventAt = now
				m.alerts[key] = state
			}
			continue
		}

		if exists {
			if !state.LastEventAt.IsZero() {
				total := now.Sub(state.FiringSince).Round(time.Second)
				m.emit(AlertEvent{
					Key:         key,
					RuleID:      RuleClientAbsent,
					SubjectType: SubjectClient,
					SubjectID:   c.Client,
					SubjectName: name,
					Network:     snap.Network,
					Status:      AlertResolved,
					Severity:    "info",
					Title:       "Client Reporting Again",
					Message:     fmt.Sprintf("%s is reporting %s slots again after %v", name, snap.Network, total),
					Details: []AlertDetail{
						{Label: "Observed", Value: fmt.Sprintf("%d/%d slots", c.Observed, snap.Slots)},
					},
					Timestamp: now,
				})
			}
			delete(m.alerts, key)
		}
	}
}

func (m *Manager) checkClientMissedRatio(now time.Time, thresholdPercent int, snap networkSnapshot) {
	if !snap.HasBatch {
		return
	}
	threshold := float64(thresholdPercent) / 100.0

	for _, c := range snap.Counts {
		key := fmt.Sprintf("client_missed_ratio:%s:%s", snap.Network, c.Client)
		state, exists := m.alerts[key]
		name := utils.DisplayName(c.Client)
		ratio := c.MissedRatio()
		missedPercent := ratio * 100

		if c.Observed > 0 && ratio >= threshold {
			if !exists {
				state = AlertStateItem{
					Key:          key,
					RuleID:       RuleClientMissedRatio,
					SubjectType:  SubjectClient,
					SubjectID:    c.Client,
					Network:      snap.Network,
					Status:       AlertFiring,
					FiringSince:  now,
					LastObserved: now,
				}
			}
			state.LastObserved = now

			if state.LastEventAt.IsZero() {
				m.emit(AlertEvent{
					Key:         key,
					RuleID:      RuleClientMissedRatio,
					SubjectType: SubjectClient,
					SubjectID:   c.Client,
					SubjectName: name,
					Network:     snap.Network,
					Status:      AlertFiring,
					Severity:    "warning",
					Title:       "Client Missed Slots High",
					Message:     fmt.Sprintf("%s sees %.1f%% of recent %s slots as missed (threshold: %d%%)", name, missedPercent, snap.Network, thresholdPercent),
					Details: append(append([]AlertDetail{
						{Label: "Threshold", Value: fmt.Sprintf("%d%%", thresholdPercent)},
						{Label: "Missed Share", Value: fmt.Sprintf("%d/%d observed", c.Missed, c.Observed)},
					}, countDetails(c)...), batchDetails(snap)...),
					Timestamp: now,
				})
				state.LastEventAt = now
			}
			m.alerts[key] = state
			continue
		}

		if exists {
			if !state.LastEventAt.IsZero() {
				m.emit(AlertEvent{
					Key:         key,
					RuleID:      RuleClientMissedRatio,
					SubjectType: SubjectClient,
					SubjectID:   c.Client,
					SubjectName: name,
					Network:     snap.Network,
					Status:      AlertResolved,
					Severity:    "info",
					Title:       "Client Missed Slots Recovered",
					Message:     fmt.Sprintf("%s missed share on %s back to %.1f%%", name, snap.Network, missedPercent),
					Details: []AlertDetail{
						{Label: "Threshold", Value: fmt.Sprintf("%d%%", thresholdPercent)},
						{Label: "Missed", Value: fmt.Sprintf("%d/%d observed", c.Missed, c.Observed)},
					},
					Timestamp: now,
				})
			}
			delete(m.alerts, key)
		}
	}
}

// releaseOtherNetworks stops tracking conditions of networks that are no
// longer selected, resolving the ones that were announced.
func (m *Manager) releaseOtherNetworks(now time.Time, network string) {
	for key, state := range m.alerts {
		if state.Network == network {
			continue
		}
		if !state.LastEventAt.IsZero() {
			m.emit(AlertEvent{
				Key:         key,
				RuleID:      state.RuleID,
				SubjectType: state.SubjectType,
				SubjectID:   state.SubjectID,
				SubjectName: utils.DisplayName(state.SubjectID),
				Network:     state.Network,
				Status:      AlertResolved,
				Severity:    "info",
				Title:       "Monitoring Moved",
				Message:     fmt.Sprintf("Stopped watching %s on %s, dashboard switched to %s", state.RuleID, state.Network, network),
				Timestamp:   now,
			})
		}
		delete(m.alerts, key)
	}
}

// emit queues event for delivery once mu is released. Callers hold mu.
func (m *Manager) emit(event AlertEvent) {
	event.URL = m.cfg.DashboardURL
	m.outbox = append(m.outbox, event)
}

// batchDetails describes the batch a rule was evaluated against.
func batchDetails(snap networkSnapshot) []AlertDetail {
	if !snap.HasBatch || snap.Slots == 0 {
		return nil
	}
	return []AlertDetail{
		{Label: "Slots", Value: fmt.Sprintf("%d-%d (%d)", snap.MinSlot, snap.MaxSlot, snap.Slots)},
		{Label: "Batch", Value: fmt.Sprintf("#%d", snap.BatchID)},
	}
}

func countDetails(c view.Counts) []AlertDetail {
	return []AlertDetail{
		{Label: "Produced", Value: fmt.Sprintf("%d", c.Produced)},
		{Label: "Missed", Value: fmt.Sprintf("%d", c.Missed)},
		{Label: "Reorged", Value: fmt.Sprintf("%d", c.Reorged)},
		{Label: "Boosted", Value: fmt.Sprintf("%d", c.Boosted)},
	}
}
