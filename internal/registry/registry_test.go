package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeSource struct {
	networks []string
	clients  []string
	err      error
}

func (f *fakeSource) Networks(ctx context.Context) ([]string, error) {
	return f.networks, f.err
}

func (f *fakeSource) Clients(ctx context.Context) ([]string, error) {
	return f.clients, f.err
}

var defaultNetworks = []string{"mainnet", "sepolia", "holesky"}
var defaultClients = []string{"lighthouse", "prysm", "teku", "nimbus", "lodestar"}

func TestNetworks_FallbackOnError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	n := NewNetworks(src, defaultNetworks, "mainnet", nil)

	if err := n.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if got := strings.Join(n.List(), ","); got != "mainnet,sepolia,holesky" {
		t.Errorf("list = %s", got)
	}
	if n.Err() == nil {
		t.Error("error should be kept for display")
	}
	if n.Current() != "mainnet" {
		t.Errorf("current = %s", n.Current())
	}
}

func TestNetworks_EmptyUpstreamKeepsDefaults(t *testing.T) {
	n := NewNetworks(&fakeSource{networks: []string{}}, defaultNetworks, "sepolia", nil)
	if err := n.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(n.List()) != 3 || n.Current() != "sepolia" {
		t.Errorf("list = %v current = %s", n.List(), n.Current())
	}
}

func TestNetworks_Select(t *testing.T) {
	n := NewNetworks(&fakeSource{}, defaultNetworks, "mainnet", nil)

	var changes []NetworkChange
	cancel := n.Subscribe(func(c NetworkChange) { changes = append(changes, c) })

	if err := n.Select("mainnet"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if len(changes) != 0 {
		t.Fatal("selecting the current network must not notify")
	}

	if err := n.Select("sepolia"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(changes) != 1 || changes[0] != (NetworkChange{Previous: "mainnet", Current: "sepolia"}) {
		t.Fatalf("changes = %+v", changes)
	}

	if err := n.Select("goerli"); !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("Select(goerli) err = %v", err)
	}
	if n.Current() != "sepolia" {
		t.Errorf("current moved to %s", n.Current())
	}

	cancel()
	n.Select("holesky")
	if len(changes) != 1 {
		t.Error("cancelled subscriber was notified")
	}
}

func TestNetworks_ReloadDropsCurrent(t *testing.T) {
	src := &fakeSource{networks: []string{"mainnet", "holesky"}}
	n := NewNetworks(src, defaultNetworks, "mainnet", nil)
	n.Select("sepolia")

	var got NetworkChange
	n.Subscribe(func(c NetworkChange) { got = c })

	if err := n.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.Current() != "mainnet" {
		t.Errorf("current = %s, want first entry", n.Current())
	}
	if got.Previous != "sepolia" || got.Current != "mainnet" {
		t.Errorf("change = %+v", got)
	}
}

func TestNetworks_PreferredAppliedAfterLoad(t *testing.T) {
	src := &fakeSource{networks: []string{"mainnet", "hoodi"}}
	n := NewNetworks(src, defaultNetworks, "hoodi", nil)
	if n.Current() != "mainnet" {
		t.Fatalf("current before load = %s", n.Current())
	}
	n.Load(context.Background())
	if n.Current() != "hoodi" {
		t.Errorf("current after load = %s", n.Current())
	}
}

func TestClients_ToggleTwice(t *testing.T) {
	c := NewClients(&fakeSource{}, defaultClients, nil)
	before := strings.Join(c.Visible(), ",")

	c.Toggle("lighthouse")
	if c.IsVisible("lighthouse") {
		t.Fatal("lighthouse should be hidden after one toggle")
	}
	c.Toggle("lighthouse")

	if after := strings.Join(c.Visible(), ","); after != before {
		t.Errorf("visible = %s, want %s", after, before)
	}
}

func TestClients_ShowHideAndUnknown(t *testing.T) {
	c := NewClients(&fakeSource{}, defaultClients, nil)

	notified := 0
	c.Subscribe(func(ClientChange) { notified++ })

	c.HideAll()
	if len(c.Visible()) != 0 {
		t.Errorf("visible after HideAll = %v", c.Visible())
	}
	c.Toggle("erigon")
	if len(c.Visible()) != 0 {
		t.Error("toggling an unlisted client must be a no-op")
	}
	c.ShowAll()
	if len(c.Visible()) != len(defaultClients) {
		t.Errorf("visible after ShowAll = %v", c.Visible())
	}
	if notified != 2 {
		t.Errorf("notified %d times, want 2", notified)
	}
}

func TestClients_LazyPrune(t *testing.T) {
	src := &fakeSource{clients: []string{"teku", "prysm", "grandine"}}
	c := NewClients(src, defaultClients, nil)

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(c.Visible(), ","); got != "grandine,prysm,teku" {
		t.Errorf("visible = %s", got)
	}
	if !c.visible["lighthouse"] {
		t.Fatal("stale id should survive until the next visibility change")
	}

	c.Toggle("teku")
	if c.visible["lighthouse"] {
		t.Error("stale id should be pruned on toggle")
	}
}

func TestClients_FallbackOnError(t *testing.T) {
	c := NewClients(&fakeSource{err: errors.New("502")}, defaultClients, nil)
	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(c.List()) != 5 || c.Err() == nil {
		t.Errorf("list = %v err = %v", c.List(), c.Err())
	}
}

func TestClients_VisibleSubsetOfList(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := &fakeSource{clients: defaultClients}
	c := NewClients(src, defaultClients, nil)
	ids := append(append([]string(nil), defaultClients...), "erigon", "grandine")

	for i := 0; i < 500; i++ {
		switch rng.Intn(6) {
		case 0:
			c.ShowAll()
		case 1:
			c.HideAll()
		case 2:
			src.clients = defaultClients[:1+rng.Intn(len(defaultClients))]
			c.Load(context.Background())
		default:
			c.Toggle(ids[rng.Intn(len(ids))])
		}

		listed := make(map[string]bool)
		for _, id := range c.List() {
			listed[id] = true
		}
		for _, id := range c.Visible() {
			if !listed[id] {
				t.Fatalf("step %d: visible %s not in list %v", i, id, c.List())
			}
		}
	}
}

func TestNetworks_ConcurrentSelectConverges(t *testing.T) {
	ids := []string{"mainnet", "sepolia", "holesky", "hoodi", "ephemery"}
	n := NewNetworks(&fakeSource{}, ids, "mainnet", nil)

	// The subscriber stands in for the poller: the last network it is told
	// about is the one it polls.
	var mu sync.Mutex
	polled := n.Current()
	n.Subscribe(func(c NetworkChange) {
		mu.Lock()
		polled = c.Current
		mu.Unlock()
	})

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				n.Select(ids[(round+i)%len(ids)])
			}(i)
		}
		wg.Wait()

		mu.Lock()
		got := polled
		mu.Unlock()
		if got != n.Current() {
			t.Fatalf("round %d: subscriber at %s, registry at %s", round, got, n.Current())
		}
	}
}

type countingSource struct {
	calls atomic.Int32
}

func (s *countingSource) Networks(ctx context.Context) ([]string, error) {
	n := s.calls.Add(1)
	return []string{"mainnet", fmt.Sprintf("devnet-%d", n)}, nil
}

func (s *countingSource) Clients(ctx context.Context) ([]string, error) {
	n := s.calls.Add(1)
	return []string{"teku", fmt.Sprintf("client-%d", n)}, nil
}

func waitCalls(t *testing.T, s *countingSource, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d, want %d", s.calls.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNetworks_ReloadOnClock(t *testing.T) {
	mock := clock.NewMock()
	src := &countingSource{}
	n := NewNetworks(src, defaultNetworks, "mainnet", mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx, time.Minute)
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("calls after start = %d", got)
	}

	mock.Add(30 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("reloaded before refresh elapsed: %d calls", got)
	}

	mock.Add(30 * time.Second)
	waitCalls(t, src, 2)
	deadline := time.Now().Add(2 * time.Second)
	for !contains(n.List(), "devnet-2") {
		if time.Now().After(deadline) {
			t.Fatalf("list = %v", n.List())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n.Current() != "mainnet" {
		t.Errorf("current = %s", n.Current())
	}
}

func TestClients_ReloadOnClock(t *testing.T) {
	mock := clock.NewMock()
	src := &countingSource{}
	c := NewClients(src, defaultClients, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, time.Minute)
	if !c.IsVisible("client-1") {
		t.Fatalf("list after start = %v", c.List())
	}

	mock.Add(time.Minute)
	waitCalls(t, src, 2)
}
