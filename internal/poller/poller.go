package poller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
	"github.com/nerolation/ethereum-interop-viz/internal/window"
)

// Source fetches the most recent slots of a network.
type Source interface {
	Slots(ctx context.Context, network string, count int) ([]slots.Slot, error)
}

type StateBroadcaster interface {
	BroadcastUpdate()
}

// Recorder receives fetch outcomes and published views.
type Recorder interface {
	RecordFetch(network string, took time.Duration, err error)
	RecordDropped(network, reason string)
	RecordView(v View)
}

const (
	DropStale      = "stale"
	DropSuperseded = "superseded"
)

type Config struct {
	Interval      time.Duration
	BatchSize     int
	DefaultWindow int
	MaxWindow     int
}

type fetch struct {
	id         uint64
	network    string
	generation uint64
	startedAt  time.Time
}

type (
	tickEvent    struct{}
	triggerEvent struct{}
	networkEvent struct{ network string }
	windowEvent  struct{ size int }
	resultEvent  struct {
		fetch fetch
		slots []slots.Slot
		err   error
		took  time.Duration
	}
)

// Poller refreshes the slots of the selected network on a fixed cadence. All
// state below mu is owned by the loop goroutine; only fetches run elsewhere
// and report back as events.
type Poller struct {
	cfg         Config
	source      Source
	clock       clock.Clock
	recorder    Recorder
	broadcaster StateBroadcaster

	ctxMu    sync.Mutex
	ctx      context.Context // nil until Start
	events   chan any
	changed  chan struct{}
	dispatch func(any)
	spawn    func(func())

	network    string
	generation uint64
	nextID     uint64
	schedule   schedule
	windows    map[string]*window.State
	inflight   map[string]fetch
	settled    map[string]uint64
	pending    map[string]bool
	errs       map[string]error
	lastOK     map[string]time.Time

	mu   sync.RWMutex
	view View
}

func NewPoller(cfg Config, source Source, clk clock.Clock, recorder Recorder, broadcaster StateBroadcaster) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if clk == nil {
		clk = clock.New()
	}

	p := &Poller{
		cfg:         cfg,
		source:      source,
		clock:       clk,
		recorder:    recorder,
		broadcaster: broadcaster,
		events:      make(chan any, 64),
		changed:     make(chan struct{}, 1),
		spawn:       func(fn func()) { go fn() },
		schedule:    schedule{interval: cfg.Interval},
		windows:     make(map[string]*window.State),
		inflight:    make(map[string]fetch),
		settled:     make(map[string]uint64),
		pending:     make(map[string]bool),
		errs:        make(map[string]error),
		lastOK:      make(map[string]time.Time),
		view:        View{Phase: PhaseIdle, Interval: cfg.Interval},
	}
	p.dispatch = p.enqueue
	return p
}

// Start selects network, fetches immediately and runs the cadence until ctx
// is done. Broadcasts run on their own goroutine so a slow consumer never
// holds up the loop.
func (p *Poller) Start(ctx context.Context, network string) {
	p.ctxMu.Lock()
	p.ctx = ctx
	p.ctxMu.Unlock()
	ticker := p.clock.Ticker(time.Second)

	logger.Info("POLL", "Polling %s every %s (batch %d)", network, p.cfg.Interval, p.cfg.BatchSize)
	go p.broadcastLoop(ctx)
	go func() {
		defer ticker.Stop()
		p.handle(networkEvent{network: network})
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.handle(tickEvent{})
			case ev := <-p.events:
				p.handle(ev)
			}
		}
	}()
}

func (p *Poller) context() context.Context {
	p.ctxMu.Lock()
	defer p.ctxMu.Unlock()
	return p.ctx
}

// enqueue hands ev to the loop. Before Start events are buffered and dropped
// once the buffer is full.
func (p *Poller) enqueue(ev any) {
	ctx := p.context()
	if ctx == nil {
		select {
		case p.events <- ev:
		default:
			logger.Warn("POLL", "Poller not started, dropping %T", ev)
		}
		return
	}
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

func (p *Poller) broadcastLoop(ctx context.Context) {
	if p.broadcaster == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.changed:
			p.broadcaster.BroadcastUpdate()
		}
	}
}

// SetNetwork switches the polled network. The new network is fetched at once;
// in-flight fetches for the old one complete but their results are dropped.
func (p *Poller) SetNetwork(network string) {
	p.dispatch(networkEvent{network: network})
}

// TriggerNow fetches immediately and restarts the countdown.
func (p *Poller) TriggerNow() {
	p.dispatch(triggerEvent{})
}

// SetWindowSize requests a window size for the selected network. Out of range
// values are clamped.
func (p *Poller) SetWindowSize(size int) {
	p.dispatch(windowEvent{size: size})
}

func (p *Poller) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// CountdownSeconds is the number of seconds until the next scheduled fetch.
func (p *Poller) CountdownSeconds() int {
	return p.View().Countdown(p.clock.Now())
}

func (p *Poller) handle(ev any) {
	switch ev := ev.(type) {
	case tickEvent:
		p.handleTick()
	case triggerEvent:
		p.handleTrigger()
	case networkEvent:
		p.handleNetwork(ev.network)
	case windowEvent:
		p.handleWindow(ev.size)
	case resultEvent:
		p.handleResult(ev)
	}
}

func (p *Poller) handleTick() {
	if p.network == "" {
		return
	}
	now := p.clock.Now()
	if !p.schedule.due(now) {
		p.notify()
		return
	}
	if f, busy := p.busy(); busy {
		if now.Sub(f.startedAt) < p.cfg.Interval {
			return
		}
		logger.Warn("POLL", "Fetch %d for %s still running after %s, starting another",
			f.id, f.network, now.Sub(f.startedAt).Round(time.Second))
	}
	p.startFetch(now)
	p.publish()
}

func (p *Poller) handleTrigger() {
	if p.network == "" {
		return
	}
	now := p.clock.Now()
	if _, busy := p.busy(); busy {
		p.pending[p.network] = true
		p.schedule.reset(now)
		logger.Debug("POLL", "Refresh for %s queued behind in-flight fetch", p.network)
		p.publish()
		return
	}
	p.startFetch(now)
	p.publish()
}

func (p *Poller) handleNetwork(network string) {
	if network == "" || network == p.network {
		return
	}
	prev := p.network
	p.network = network
	p.generation++
	p.pending = make(map[string]bool)
	if prev != "" {
		logger.Info("POLL", "Network changed %s -> %s", prev, network)
	}

	p.startFetch(p.clock.Now())
	p.publish()
}

func (p *Poller) handleWindow(size int) {
	if p.network == "" {
		return
	}
	got := p.windowFor(p.network).SetSize(size)
	logger.Debug("POLL", "Window for %s set to %d (requested %d)", p.network, got, size)
	p.publish()
}

func (p *Poller) handleResult(res resultEvent) {
	f := res.fetch
	if cur, ok := p.inflight[f.network]; ok && cur.id == f.id {
		delete(p.inflight, f.network)
	}
	if p.recorder != nil {
		p.recorder.RecordFetch(f.network, res.took, res.err)
	}

	if f.network != p.network || f.generation != p.generation {
		logger.Debug("POLL", "Dropping stale result %d for %s", f.id, f.network)
		p.drop(f.network, DropStale)
		p.publish()
		return
	}
	if f.id < p.settled[f.network] {
		logger.Debug("POLL", "Dropping superseded result %d for %s", f.id, f.network)
		p.drop(f.network, DropSuperseded)
		p.publish()
		return
	}
	p.settled[f.network] = f.id

	now := p.clock.Now()
	p.schedule.reset(now)

	if res.err != nil {
		p.errs[f.network] = res.err
		logger.Warn("POLL", "Slot fetch for %s failed, keeping last data: %v", f.network, res.err)
	} else {
		w := p.windowFor(f.network)
		w.Apply(slots.Batch{ID: f.id, Network: f.network, FetchedAt: now, Slots: res.slots})
		if p.errs[f.network] != nil {
			logger.Info("POLL", "Slot fetch for %s recovered", f.network)
		}
		delete(p.errs, f.network)
		p.lastOK[f.network] = now
		logger.Debug("POLL", "Batch %d for %s: %d slots in %s", f.id, f.network, len(res.slots), res.took.Round(time.Millisecond))
	}

	if p.pending[f.network] {
		if _, busy := p.busy(); !busy {
			delete(p.pending, f.network)
			p.startFetch(now)
		}
	}
	p.publish()
}

func (p *Poller) busy() (fetch, bool) {
	f, ok := p.inflight[p.network]
	if !ok || f.generation != p.generation {
		return fetch{}, false
	}
	return f, true
}

func (p *Poller) startFetch(now time.Time) {
	p.nextID++
	f := fetch{id: p.nextID, network: p.network, generation: p.generation, startedAt: now}
	p.inflight[f.network] = f
	p.schedule.reset(now)

	ctx := p.context()
	if ctx == nil {
		ctx = context.Background()
	}
	p.spawn(func() {
		start := p.clock.Now()
		got, err := p.source.Slots(ctx, f.network, p.cfg.BatchSize)
		p.dispatch(resultEvent{fetch: f, slots: got, err: err, took: p.clock.Now().Sub(start)})
	})
}

func (p *Poller) windowFor(network string) *window.State {
	w, ok := p.windows[network]
	if !ok {
		w = window.NewState(p.cfg.DefaultWindow, p.cfg.MaxWindow)
		p.windows[network] = w
	}
	return w
}

func (p *Poller) drop(network, reason string) {
	if p.recorder != nil {
		p.recorder.RecordDropped(network, reason)
	}
}

func (p *Poller) publish() {
	snap := p.windowFor(p.network).Export()

	v := View{
		Network:      p.network,
		Generation:   p.generation,
		Phase:        PhaseIdle,
		Err:          p.errs[p.network],
		BatchID:      snap.BatchID,
		FetchedAt:    snap.FetchedAt,
		LastSuccess:  p.lastOK[p.network],
		AllSlots:     snap.All,
		DisplaySlots: snap.Display,
		WindowSize:   snap.Size,
		WindowMax:    snap.MaxSize,
		NextDue:      p.schedule.next,
		Interval:     p.cfg.Interval,
	}
	if _, busy := p.busy(); busy {
		v.Phase = PhaseFetching
	}

	p.mu.Lock()
	p.view = v
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.RecordView(v)
	}
	p.notify()
}

// notify coalesces change signals; the broadcast loop delivers at most one
// pending update.
func (p *Poller) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}
