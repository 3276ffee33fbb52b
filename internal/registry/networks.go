package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
)

var ErrUnknownNetwork = errors.New("unknown network")

// NetworkSource provides the upstream network list.
type NetworkSource interface {
	Networks(ctx context.Context) ([]string, error)
}

// NetworkChange is delivered to subscribers whenever the selection moves.
type NetworkChange struct {
	Previous string
	Current  string
}

// Networks holds the known networks and the current selection. Current is
// always a member of List.
type Networks struct {
	source NetworkSource
	clock  clock.Clock

	// changeMu orders selection changes with their notifications.
	changeMu  sync.Mutex
	mu        sync.RWMutex
	list      []string
	current   string
	preferred string
	loaded    bool
	err       error

	subs subscribers[NetworkChange]
}

// NewNetworks returns a registry seeded with defaults. initial is selected as
// soon as it appears in the list; until then the first default is current.
// A nil clk uses the wall clock.
func NewNetworks(source NetworkSource, defaults []string, initial string, clk clock.Clock) *Networks {
	if clk == nil {
		clk = clock.New()
	}
	list := cleanList(defaults)
	if len(list) == 0 {
		list = []string{"mainnet"}
	}

	n := &Networks{
		source:  source,
		clock:   clk,
		list:    list,
		current: list[0],
	}
	if contains(list, initial) {
		n.current = initial
	} else if initial != "" {
		n.preferred = initial
	}
	return n
}

// Start loads the list once and, when refresh is positive, reloads it on a
// ticker until ctx is done.
func (n *Networks) Start(ctx context.Context, refresh time.Duration) {
	if err := n.Load(ctx); err != nil {
		logger.Warn("REGISTRY", "Network list unavailable, using %v: %v", n.List(), err)
	}
	reloadEvery(ctx, n.clock, refresh, "Network", n.Load)
}

// Load fetches the upstream list. On failure, or when upstream reports no
// networks, the last known list (initially the defaults) stays in place and
// the error is kept for display.
func (n *Networks) Load(ctx context.Context) error {
	fetched, err := n.source.Networks(ctx)
	fetched = cleanList(fetched)

	n.changeMu.Lock()
	defer n.changeMu.Unlock()
	n.mu.Lock()
	if err != nil {
		n.err = err
		n.mu.Unlock()
		return err
	}
	n.err = nil
	if len(fetched) == 0 {
		n.mu.Unlock()
		logger.Warn("REGISTRY", "Upstream returned no networks, keeping %d known", len(n.List()))
		return nil
	}

	change, changed := n.applyLocked(fetched)
	n.loaded = true
	n.mu.Unlock()

	logger.Info("REGISTRY", "Tracking %d networks, current %s", len(fetched), change.Current)
	if changed {
		n.subs.notify(change)
	}
	return nil
}

func (n *Networks) applyLocked(list []string) (NetworkChange, bool) {
	prev := n.current
	n.list = list

	switch {
	case n.preferred != "" && contains(list, n.preferred):
		n.current = n.preferred
		n.preferred = ""
	case !contains(list, n.current):
		logger.Warn("REGISTRY", "Network %s no longer listed, falling back to %s", n.current, list[0])
		n.current = list[0]
	}
	return NetworkChange{Previous: prev, Current: n.current}, prev != n.current
}

// List returns the ordered network ids.
func (n *Networks) List() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.list...)
}

func (n *Networks) Current() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// Loaded reports whether the list came from upstream at least once.
func (n *Networks) Loaded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded
}

// Err returns the error of the last load, nil after a successful one.
func (n *Networks) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

// Select makes id the current network. Selecting the current network is a
// no-op; an id outside List is rejected with ErrUnknownNetwork.
func (n *Networks) Select(id string) error {
	id = strings.TrimSpace(id)

	n.changeMu.Lock()
	defer n.changeMu.Unlock()
	n.mu.Lock()
	if id == n.current {
		n.mu.Unlock()
		return nil
	}
	if !contains(n.list, id) {
		n.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, id)
	}
	change := NetworkChange{Previous: n.current, Current: id}
	n.current = id
	n.preferred = ""
	n.mu.Unlock()

	logger.Info("REGISTRY", "Network switched %s -> %s", change.Previous, change.Current)
	n.subs.notify(change)
	return nil
}

// Subscribe registers fn for selection changes and returns its cancel func.
// Changes are delivered in the order they were made; fn must not call Select
// or Load.
func (n *Networks) Subscribe(fn func(NetworkChange)) (cancel func()) {
	return n.subs.add(fn)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
