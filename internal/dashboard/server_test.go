package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/poller"
	"github.com/nerolation/ethereum-interop-viz/internal/registry"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
)

type fakeController struct {
	mu        sync.Mutex
	view      poller.View
	triggered int
	sizes     []int
}

func (f *fakeController) View() poller.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeController) CountdownSeconds() int { return 7 }

func (f *fakeController) TriggerNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered++
}

func (f *fakeController) SetWindowSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, size)
}

func observed(n uint64, clients ...string) slots.Slot {
	s := slots.Slot{Number: n, ByClient: make(map[string]slots.Observation)}
	for _, c := range clients {
		s.ByClient[c] = slots.Observation{Slot: n, Client: c, Status: slots.StatusProduced, SecondsInSlot: 2.5, Timed: true}
	}
	return s
}

func newTestServer(t *testing.T) (*Server, *fakeController, *httptest.Server) {
	t.Helper()
	display := []slots.Slot{observed(119, "prysm", "teku"), observed(120, "teku")}
	ctrl := &fakeController{view: poller.View{
		Network:      "holesky",
		Phase:        poller.PhaseIdle,
		BatchID:      3,
		FetchedAt:    time.Unix(1700000000, 0),
		AllSlots:     append([]slots.Slot{observed(118, "prysm")}, display...),
		DisplaySlots: display,
		WindowSize:   2,
		WindowMax:    3,
	}}
	networks := registry.NewNetworks(nil, []string{"mainnet", "holesky"}, "holesky", nil)
	clients := registry.NewClients(nil, []string{"prysm", "teku"}, nil)

	s := NewServer(config.DashboardConfig{Port: 8888, HideLogs: true}, ctrl, networks, clients, nil,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }))

	mux := http.NewServeMux()
	s.routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ctrl, ts
}

func decodeState(t *testing.T, ts *httptest.Server) StateDTO {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()

	var st StateDTO
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	resp.Body.Close()
	return resp
}

func TestState(t *testing.T) {
	_, _, ts := newTestServer(t)
	st := decodeState(t, ts)

	if st.Type != "state" || st.Network != "holesky" || st.NetworkLabel != "Holesky" {
		t.Errorf("header fields = %+v", st)
	}
	if st.Countdown != 7 || st.WindowSize != 2 || st.WindowMax != 3 || st.BatchID != 3 {
		t.Errorf("poller fields = %+v", st)
	}
	if len(st.DisplaySlots) != 2 || st.DisplaySlots[0] != 119 || st.DisplaySlots[1] != 120 {
		t.Errorf("display slots = %v", st.DisplaySlots)
	}
	if len(st.Rows) != 2 || st.Rows[0].Client != "prysm" || st.Rows[1].Client != "teku" {
		t.Fatalf("rows = %+v", st.Rows)
	}
	if st.Rows[0].Cells[1].Present {
		t.Error("prysm has no observation for 120")
	}
	if st.Debug.Total != 3 || st.Debug.Displayed != 2 {
		t.Errorf("debug = %+v", st.Debug)
	}
	if st.Alerts == nil {
		t.Error("alerts should encode as an empty list")
	}
}

func TestSelectNetwork(t *testing.T) {
	s, _, ts := newTestServer(t)

	if resp := postJSON(t, ts.URL+"/api/network", `{"network": "mainnet"}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("select mainnet status = %d", resp.StatusCode)
	}
	if got := s.networks.Current(); got != "mainnet" {
		t.Errorf("current = %s", got)
	}

	if resp := postJSON(t, ts.URL+"/api/network", `{"network": "goerli"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown network status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/api/network", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
	if got := s.networks.Current(); got != "mainnet" {
		t.Errorf("current after rejected selects = %s", got)
	}
}

func TestClientFilter(t *testing.T) {
	_, _, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/clients/prysm/toggle", "")
	st := decodeState(t, ts)
	if len(st.VisibleClients) != 1 || st.VisibleClients[0] != "teku" {
		t.Errorf("visible after toggle = %v", st.VisibleClients)
	}
	if len(st.Rows) != 1 || st.Rows[0].Client != "teku" {
		t.Errorf("rows after toggle = %+v", st.Rows)
	}

	postJSON(t, ts.URL+"/api/clients/hide-all", "")
	if st := decodeState(t, ts); len(st.VisibleClients) != 0 || len(st.Rows) != 0 {
		t.Errorf("after hide-all: visible=%v rows=%d", st.VisibleClients, len(st.Rows))
	}

	postJSON(t, ts.URL+"/api/clients/show-all", "")
	if st := decodeState(t, ts); len(st.VisibleClients) != 2 {
		t.Errorf("after show-all: visible=%v", st.VisibleClients)
	}
}

func TestWindowAndRefresh(t *testing.T) {
	_, ctrl, ts := newTestServer(t)

	if resp := postJSON(t, ts.URL+"/api/window", `{"size": 8}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("window status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/api/window", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing size status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/api/refresh", ""); resp.StatusCode != http.StatusAccepted {
		t.Errorf("refresh status = %d", resp.StatusCode)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.sizes) != 1 || ctrl.sizes[0] != 8 {
		t.Errorf("window sizes = %v", ctrl.sizes)
	}
	if ctrl.triggered != 1 {
		t.Errorf("triggered = %d", ctrl.triggered)
	}
}

func TestIndex(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/html" {
		t.Errorf("index status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestWebSocketInitialState(t *testing.T) {
	_, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first StateDTO
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if first.Type != "state" || first.Network != "holesky" {
		t.Errorf("first message = %+v", first)
	}

	var cfgMsg map[string]interface{}
	if err := conn.ReadJSON(&cfgMsg); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if cfgMsg["type"] != "config" || cfgMsg["hide_logs"] != true {
		t.Errorf("config message = %v", cfgMsg)
	}
}

func TestBroadcastUpdate_Coalesces(t *testing.T) {
	s, _, _ := newTestServer(t)

	for i := 0; i < 10; i++ {
		s.BroadcastUpdate()
	}
	if len(s.updates) != 1 {
		t.Errorf("pending updates = %d, want 1", len(s.updates))
	}
}

func TestBroadcastUpdate_DoesNotWaitForWriters(t *testing.T) {
	s, _, _ := newTestServer(t)

	// A writer stuck on a slow viewer holds the connection lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.BroadcastUpdate()
		s.BroadcastUpdate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastUpdate blocked on the connection lock")
	}
}

func TestHandleMessages_PushesState(t *testing.T) {
	s, _, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleMessages(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read initial: %v", err)
		}
	}

	s.BroadcastUpdate()
	var pushed StateDTO
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if pushed.Type != "state" || pushed.Network != "holesky" {
		t.Errorf("pushed = %+v", pushed)
	}
}
