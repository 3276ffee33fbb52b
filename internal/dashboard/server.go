package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerolation/ethereum-interop-viz/internal/alerts"
	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/poller"
	"github.com/nerolation/ethereum-interop-viz/internal/registry"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
	"github.com/nerolation/ethereum-interop-viz/internal/utils"
	"github.com/nerolation/ethereum-interop-viz/internal/view"
)

//go:embed static/*
var staticFS embed.FS

// writeWait bounds each websocket write so a stalled viewer is dropped.
const writeWait = 5 * time.Second

// Controller is the poller surface the dashboard reads and drives.
type Controller interface {
	View() poller.View
	CountdownSeconds() int
	TriggerNow()
	SetWindowSize(size int)
}

type NetworkSelector interface {
	List() []string
	Current() string
	Select(id string) error
	Err() error
}

type ClientFilter interface {
	List() []string
	Visible() []string
	Toggle(id string)
	ShowAll()
	HideAll()
	Err() error
}

type AlertLister interface {
	Active() []alerts.AlertStateItem
}

type Server struct {
	cfg      config.DashboardConfig
	poller   Controller
	networks NetworkSelector
	clients  ClientFilter
	alerts   AlertLister
	metrics  http.Handler

	// WebSocket
	upgrader  websocket.Upgrader
	conns   map[*websocket.Conn]bool
	updates chan struct{}
	logChan chan logger.LogEntry
	mu      sync.Mutex
}

func NewServer(cfg config.DashboardConfig, ctrl Controller, networks NetworkSelector, clients ClientFilter, alertLister AlertLister, metrics http.Handler) *Server {
	s := &Server{
		cfg:      cfg,
		poller:   ctrl,
		networks: networks,
		clients:  clients,
		alerts:   alertLister,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:   make(map[*websocket.Conn]bool),
		updates: make(chan struct{}, 1),
		logChan: make(chan logger.LogEntry, 100),
	}

	if !cfg.HideLogs {
		logger.SetLogChannel(s.logChan)
	}
	return s
}

func (s *Server) Start(ctx context.Context) {
	metricsPort := s.cfg.Prometheus.Port

	if s.cfg.Port > 0 {
		go s.handleMessages(ctx)
		go s.handleLogs(ctx)
		go s.runServer(ctx, s.cfg.Port, func(mux *http.ServeMux) {
			s.routes(mux)
			if s.metrics != nil && metricsPort == s.cfg.Port {
				mux.Handle("GET /metrics", s.metrics)
			}
		})
	}

	if s.metrics != nil && metricsPort > 0 && metricsPort != s.cfg.Port {
		go s.runServer(ctx, metricsPort, func(mux *http.ServeMux) {
			mux.Handle("GET /metrics", s.metrics)
		})
	}
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /ws", s.handleConnections)
	mux.HandleFunc("POST /api/network", s.handleSelectNetwork)
	mux.HandleFunc("POST /api/clients/{client}/toggle", s.handleToggleClient)
	mux.HandleFunc("POST /api/clients/show-all", s.handleShowAll)
	mux.HandleFunc("POST /api/clients/hide-all", s.handleHideAll)
	mux.HandleFunc("POST /api/window", s.handleWindow)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		content, _ := staticFS.ReadFile("static/index.html")
		w.Header().Set("Content-Type", "text/html")
		w.Write(content)
	})
}

func (s *Server) runServer(ctx context.Context, port int, setup func(*http.ServeMux)) {
	mux := http.NewServeMux()
	setup(mux)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("SYS", "HTTP server listening on %s", addr)

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
		logger.Info("SYS", "HTTP server shutting down")
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("SYS", "HTTP server failed on %s: %v", addr, err)
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "WS upgrade failed: %v", err)
		return
	}

	state, stateErr := s.getStateJSON()
	configMsg, cfgErr := json.Marshal(map[string]interface{}{
		"type":      "config",
		"hide_logs": s.cfg.HideLogs,
	})

	s.mu.Lock()
	s.conns[ws] = true
	if stateErr == nil {
		s.writeLocked(ws, state)
	}
	if cfgErr == nil {
		s.writeLocked(ws, configMsg)
	}
	s.mu.Unlock()

	// Drain control frames until the peer goes away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				s.drop(ws)
				return
			}
		}
	}()
}

func (s *Server) drop(ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[ws] {
		delete(s.conns, ws)
		ws.Close()
	}
}

// writeLocked sends msg to ws, dropping the connection on failure. Callers
// hold s.mu.
func (s *Server) writeLocked(ws *websocket.Conn, msg []byte) {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		logger.Debug("DASH", "Dropping websocket client: %v", err)
		ws.Close()
		delete(s.conns, ws)
	}
}

func (s *Server) writeAll(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		s.writeLocked(conn, msg)
	}
}

func (s *Server) connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.updates:
			if s.connected() == 0 {
				continue
			}
			state, err := s.getStateJSON()
			if err != nil {
				logger.Warn("DASH", "Failed to marshal state for broadcast: %v", err)
				continue
			}
			s.writeAll(state)
		}
	}
}

func (s *Server) handleLogs(ctx context.Context) {
	type LogMessage struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
	}

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.logChan:
			bytes, err := json.Marshal(LogMessage{
				Type:      "log",
				Timestamp: entry.Timestamp,
				Level:     entry.Level,
				Component: entry.Component,
				Message:   entry.Message,
			})
			if err != nil {
				continue
			}
			s.writeAll(bytes)
		}
	}
}

// BroadcastUpdate schedules a state push to connected clients. It never
// blocks; signals arriving while a push is pending are coalesced.
func (s *Server) BroadcastUpdate() {
	if s.cfg.Port == 0 {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

type StateDTO struct {
	Type           string                  `json:"type"`
	Network        string                  `json:"network"`
	NetworkLabel   string                  `json:"network_label"`
	Networks       []string                `json:"networks"`
	NetworkError   string                  `json:"network_error,omitempty"`
	Clients        []string                `json:"clients"`
	VisibleClients []string                `json:"visible_clients"`
	ClientError    string                  `json:"client_error,omitempty"`
	Phase          poller.Phase            `json:"phase"`
	Refreshing     bool                    `json:"refreshing"`
	Countdown      int                     `json:"countdown"`
	Error          string                  `json:"error,omitempty"`
	BatchID        uint64                  `json:"batch_id"`
	FetchedAt      string                  `json:"fetched_at,omitempty"`
	WindowSize     int                     `json:"window_size"`
	WindowMax      int                     `json:"window_max"`
	DisplaySlots   []uint64                `json:"display_slots"`
	Rows           []view.Row              `json:"rows"`
	Summary        []view.Counts           `json:"summary"`
	Debug          view.DebugInfo          `json:"debug"`
	Alerts         []alerts.AlertStateItem `json:"alerts"`
}

func (s *Server) state() StateDTO {
	v := s.poller.View()
	visible := s.clients.Visible()

	st := StateDTO{
		Type:           "state",
		Network:        v.Network,
		NetworkLabel:   utils.DisplayName(v.Network),
		Networks:       s.networks.List(),
		Clients:        s.clients.List(),
		VisibleClients: visible,
		Phase:          v.Phase,
		Refreshing:     v.Refreshing(),
		Countdown:      s.poller.CountdownSeconds(),
		BatchID:        v.BatchID,
		WindowSize:     v.WindowSize,
		WindowMax:      v.WindowMax,
		DisplaySlots:   slots.Numbers(v.DisplaySlots),
		Rows:           view.Project(v.DisplaySlots, visible),
		Summary:        view.Summarize(v.DisplaySlots, visible),
		Debug:          view.Debug(v.Network, v.AllSlots, v.DisplaySlots),
		Alerts:         []alerts.AlertStateItem{},
	}
	if err := s.networks.Err(); err != nil {
		st.NetworkError = err.Error()
	}
	if err := s.clients.Err(); err != nil {
		st.ClientError = err.Error()
	}
	if v.Err != nil {
		st.Error = v.Err.Error()
	}
	if !v.FetchedAt.IsZero() {
		st.FetchedAt = v.FetchedAt.Format(time.RFC3339)
	}
	if s.alerts != nil {
		st.Alerts = s.alerts.Active()
	}
	return st
}

func (s *Server) getStateJSON() ([]byte, error) {
	return json.Marshal(s.state())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.getStateJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(state)
}

func (s *Server) handleSelectNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Network) == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"network\": \"<id>\"}")
		return
	}
	if err := s.networks.Select(req.Network); err != nil {
		if errors.Is(err, registry.ErrUnknownNetwork) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"network": s.networks.Current()})
}

func (s *Server) handleToggleClient(w http.ResponseWriter, r *http.Request) {
	s.clients.Toggle(r.PathValue("client"))
	s.writeVisible(w)
}

func (s *Server) handleShowAll(w http.ResponseWriter, r *http.Request) {
	s.clients.ShowAll()
	s.writeVisible(w)
}

func (s *Server) handleHideAll(w http.ResponseWriter, r *http.Request) {
	s.clients.HideAll()
	s.writeVisible(w)
}

func (s *Server) writeVisible(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string][]string{"visible_clients": s.clients.Visible()})
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size *int `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Size == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"size\": <n>}")
		return
	}
	s.poller.SetWindowSize(*req.Size)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.poller.TriggerNow()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
