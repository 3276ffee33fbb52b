package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
)

// ClientSource provides the upstream client implementation list.
type ClientSource interface {
	Clients(ctx context.Context) ([]string, error)
}

// ClientChange carries the visible set after a visibility change.
type ClientChange struct {
	Visible []string
}

// Clients holds the known client implementations and the subset shown on the
// dashboard. Ids that vanish upstream stay in the visible set until the next
// Toggle, ShowAll or HideAll prunes them; Visible never reports them.
type Clients struct {
	source ClientSource
	clock  clock.Clock

	// changeMu orders visibility changes with their notifications.
	changeMu sync.Mutex
	mu       sync.RWMutex
	list    []string
	visible map[string]bool
	loaded  bool
	err     error

	subs subscribers[ClientChange]
}

// NewClients returns a registry seeded with defaults, all visible. A nil clk
// uses the wall clock.
func NewClients(source ClientSource, defaults []string, clk clock.Clock) *Clients {
	if clk == nil {
		clk = clock.New()
	}
	list := cleanList(defaults)
	sort.Strings(list)

	c := &Clients{
		source:  source,
		clock:   clk,
		list:    list,
		visible: make(map[string]bool, len(list)),
	}
	for _, id := range list {
		c.visible[id] = true
	}
	return c
}

// Start loads the list once and, when refresh is positive, reloads it on a
// ticker until ctx is done.
func (c *Clients) Start(ctx context.Context, refresh time.Duration) {
	if err := c.Load(ctx); err != nil {
		logger.Warn("REGISTRY", "Client list unavailable, using %v: %v", c.List(), err)
	}
	reloadEvery(ctx, c.clock, refresh, "Client", c.Load)
}

// Load fetches the upstream list. Newly listed clients start visible. On
// failure or an empty list the previous list is kept.
func (c *Clients) Load(ctx context.Context) error {
	fetched, err := c.source.Clients(ctx)
	fetched = cleanList(fetched)
	sort.Strings(fetched)

	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.mu.Lock()
	if err != nil {
		c.err = err
		c.mu.Unlock()
		return err
	}
	c.err = nil
	if len(fetched) == 0 {
		c.mu.Unlock()
		logger.Warn("REGISTRY", "Upstream returned no clients, keeping defaults")
		return nil
	}

	for _, id := range fetched {
		if !contains(c.list, id) {
			c.visible[id] = true
		}
	}
	c.list = fetched
	c.loaded = true
	change := ClientChange{Visible: c.visibleLocked()}
	c.mu.Unlock()

	logger.Info("REGISTRY", "Tracking %d clients", len(fetched))
	c.subs.notify(change)
	return nil
}

// List returns the known client ids, sorted.
func (c *Clients) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.list...)
}

// Visible returns the visible client ids in List order.
func (c *Clients) Visible() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visibleLocked()
}

func (c *Clients) visibleLocked() []string {
	out := make([]string, 0, len(c.visible))
	for _, id := range c.list {
		if c.visible[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Clients) IsVisible(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visible[id] && contains(c.list, id)
}

func (c *Clients) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Toggle flips the visibility of id. Ids not in List are ignored.
func (c *Clients) Toggle(id string) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	if !contains(c.list, id) {
		c.mu.Unlock()
		return
	}
	c.pruneLocked()
	if c.visible[id] {
		delete(c.visible, id)
	} else {
		c.visible[id] = true
	}
	change := ClientChange{Visible: c.visibleLocked()}
	c.mu.Unlock()

	c.subs.notify(change)
}

func (c *Clients) ShowAll() {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	c.visible = make(map[string]bool, len(c.list))
	for _, id := range c.list {
		c.visible[id] = true
	}
	change := ClientChange{Visible: c.visibleLocked()}
	c.mu.Unlock()

	c.subs.notify(change)
}

func (c *Clients) HideAll() {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	c.visible = make(map[string]bool)
	c.mu.Unlock()

	c.subs.notify(ClientChange{Visible: []string{}})
}

// Subscribe registers fn for visibility changes and returns its cancel func.
// Changes are delivered in the order they were made; fn must not change
// visibility.
func (c *Clients) Subscribe(fn func(ClientChange)) (cancel func()) {
	return c.subs.add(fn)
}

func (c *Clients) pruneLocked() {
	for id := range c.visible {
		if !contains(c.list, id) {
			delete(c.visible, id)
		}
	}
}
