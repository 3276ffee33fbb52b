package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
)

var (
	ErrNetworkListUnavailable = errors.New("network list unavailable")
	ErrClientListUnavailable  = errors.New("client list unavailable")
	ErrSlotFetchFailed        = errors.New("slot fetch failed")
)

const (
	EndpointNetworks = "networks"
	EndpointClients  = "clients"
	EndpointSlots    = "slots"
)

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(strings.ToLower(msg), "<html"); idx >= 0 {
		// Keep the status line before HTML payload, if present
		if idx > 0 {
			return strings.TrimSpace(msg[:idx])
		}
		return "HTTP error response"
	}
	return msg
}

type EndpointStatus struct {
	Healthy   bool
	Latency   time.Duration
	LastError string
	LastCheck time.Time
}

// Client talks to the read-only dashboard backend API.
type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	status map[string]EndpointStatus
}

// NewClient returns a client for the API rooted at baseURL (".../api").
// A zero timeout leaves requests unbounded.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		status:  make(map[string]EndpointStatus),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Networks fetches GET /networks.
func (c *Client) Networks(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, EndpointNetworks, "/networks", &out); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNetworkListUnavailable, sanitizeError(err))
	}
	return out, nil
}

// Clients fetches GET /clients. The backend returns a set; the result is sorted.
func (c *Client) Clients(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, EndpointClients, "/clients", &out); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrClientListUnavailable, sanitizeError(err))
	}
	sort.Strings(out)
	return out, nil
}

// Slots fetches GET /slots/{network}?count=N and normalizes the result.
func (c *Client) Slots(ctx context.Context, network string, count int) ([]slots.Slot, error) {
	path := fmt.Sprintf("/slots/%s?count=%s", url.PathEscape(network), strconv.Itoa(count))

	var raw []slots.WireSlot
	if err := c.get(ctx, EndpointSlots, path, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrSlotFetchFailed, network, sanitizeError(err))
	}

	out, issues := slots.Normalize(network, raw)
	for _, issue := range issues {
		logger.Warn("API", "%s: %s", network, issue)
	}
	return out, nil
}

// Status returns a copy of the last observed status per endpoint.
func (c *Client) Status() map[string]EndpointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]EndpointStatus, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

func (c *Client) get(ctx context.Context, endpoint, path string, result any) error {
	start := time.Now()
	err := c.doGet(ctx, c.baseURL+path, result)
	c.record(endpoint, start, err)
	if err != nil {
		logger.Debug("API", "GET %s failed: %s", path, sanitizeError(err))
	}
	return err
}

func (c *Client) record(endpoint string, start time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := EndpointStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		LastCheck: time.Now(),
	}
	if err != nil {
		st.LastError = sanitizeError(err)
	}
	c.status[endpoint] = st
}

func (c *Client) doGet(ctx context.Context, reqURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(replaceNaN(body), result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// replaceNaN rewrites bare NaN tokens outside of JSON strings to null.
// The reference backend serializes missing floats that way.
func replaceNaN(body []byte) []byte {
	if !strings.Contains(string(body), "NaN") {
		return body
	}

	out := make([]byte, 0, len(body)+16)
	inString := false
	escaped := false
	for i := 0; i < len(body); i++ {
		b := body[i]
		if inString {
			out = append(out, b)
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		if b == '"' {
			inString = true
			out = append(out, b)
			continue
		}
		if b == 'N' && i+2 < len(body) && body[i+1] == 'a' && body[i+2] == 'N' {
			out = append(out, "null"...)
			i += 2
			continue
		}
		out = append(out, b)
	}
	return out
}
