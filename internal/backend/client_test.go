package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/api/", 2*time.Second)
}

func TestClient_Slots(t *testing.T) {
	var gotPath, gotCount string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"slot": 120, "data": {"teku": {"slot": 120, "network": "holesky", "client": "teku", "status": "produced",
				"timestamp": "x", "timestamp_seconds": 1700000000000, "seconds_in_slot": 1.2}}},
			{"slot": 119, "data": {"prysm": {"slot": 119, "network": "holesky", "client": "prysm", "status": "missed",
				"timestamp": "NaN in a string stays", "timestamp_seconds": NaN, "seconds_in_slot": NaN}}}
		]`))
	})

	got, err := c.Slots(context.Background(), "holesky", 20)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if gotPath != "/api/slots/holesky" || gotCount != "20" {
		t.Errorf("request = %s count=%s", gotPath, gotCount)
	}
	if len(got) != 2 {
		t.Fatalf("got %d slots", len(got))
	}
	prysm, ok := got[1].Observation("prysm")
	if !ok {
		t.Fatal("prysm observation missing")
	}
	if prysm.Timed {
		t.Error("NaN seconds_in_slot should decode as untimed")
	}
	if prysm.Timestamp != "NaN in a string stays" {
		t.Errorf("string content rewritten: %q", prysm.Timestamp)
	}

	st := c.Status()[EndpointSlots]
	if !st.Healthy || st.LastCheck.IsZero() {
		t.Errorf("endpoint status = %+v", st)
	}
}

func TestClient_ErrorKinds(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html><body>bad gateway</body></html>", http.StatusBadGateway)
	})
	ctx := context.Background()

	if _, err := c.Networks(ctx); !errors.Is(err, ErrNetworkListUnavailable) {
		t.Errorf("Networks err = %v", err)
	}
	if _, err := c.Clients(ctx); !errors.Is(err, ErrClientListUnavailable) {
		t.Errorf("Clients err = %v", err)
	}
	_, err := c.Slots(ctx, "mainnet", 20)
	if !errors.Is(err, ErrSlotFetchFailed) {
		t.Fatalf("Slots err = %v", err)
	}
	if strings.Contains(err.Error(), "<html") {
		t.Errorf("html payload leaked into error: %v", err)
	}

	st := c.Status()[EndpointSlots]
	if st.Healthy || st.LastError == "" {
		t.Errorf("endpoint status = %+v", st)
	}
}

func TestClient_ClientsSorted(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["teku", "lighthouse", "prysm"]`))
	})

	got, err := c.Clients(context.Background())
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if strings.Join(got, ",") != "lighthouse,prysm,teku" {
		t.Errorf("clients = %v", got)
	}
}

func TestReplaceNaN(t *testing.T) {
	in := `{"a": NaN, "b": "NaN", "c": "esc\"NaN", "d": [NaN,1]}`
	want := `{"a": null, "b": "NaN", "c": "esc\"NaN", "d": [null,1]}`
	if got := string(replaceNaN([]byte(in))); got != want {
		t.Errorf("replaceNaN = %s, want %s", got, want)
	}
}
