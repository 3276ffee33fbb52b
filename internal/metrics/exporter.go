package metrics

import (
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerolation/ethereum-interop-viz/internal/backend"
	"github.com/nerolation/ethereum-interop-viz/internal/poller"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
	"github.com/nerolation/ethereum-interop-viz/internal/view"
)

// EndpointSource reports per-endpoint health of the backend API.
type EndpointSource interface {
	Status() map[string]backend.EndpointStatus
}

// ClientLister supplies the client ids to break slot counts down by.
type ClientLister interface {
	List() []string
}

type Exporter struct {
	metricsPrefix string
	registry      *prometheus.Registry
	endpoints     EndpointSource
	clients       ClientLister

	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	fetchFailing    *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
	windowSize      *prometheus.GaugeVec
	displayed       *prometheus.GaugeVec
	batchSlots      *prometheus.GaugeVec
	headSlot        *prometheus.GaugeVec
	diverged        *prometheus.GaugeVec
	clientSlots     *prometheus.GaugeVec
	clientBoosted   *prometheus.GaugeVec
	endpointUp      *prometheus.GaugeVec
	endpointLatency *prometheus.GaugeVec
	endpointCheck   *prometheus.GaugeVec
}

func NewExporter(prefix string, endpoints EndpointSource, clients ClientLister) *Exporter {
	if prefix == "" {
		prefix = "interop"
	}

	e := &Exporter{
		metricsPrefix: prefix,
		registry:      prometheus.NewRegistry(),
		endpoints:     endpoints,
		clients:       clients,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_slot_fetches_total",
			Help: "Completed slot fetches by result",
		}, []string{"network", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_slot_fetch_duration_seconds",
			Help:    "Slot fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"network"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_slot_results_dropped_total",
			Help: "Fetch results discarded by the staleness guard",
		}, []string{"network", "reason"}),
		fetchFailing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_slot_fetch_failing",
			Help: "Whether the last slot fetch failed (1=yes, 0=no)",
		}, []string{"network"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_slot_last_success_timestamp",
			Help: "Unix timestamp of the last applied batch",
		}, []string{"network"}),
		windowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_window_size",
			Help: "Current window size in slots",
		}, []string{"network"}),
		displayed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_window_displayed_slots",
			Help: "Slots currently displayed",
		}, []string{"network"}),
		batchSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_batch_slots",
			Help: "Slots in the latest batch",
		}, []string{"network"}),
		headSlot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_batch_head_slot",
			Help: "Highest slot number in the latest batch",
		}, []string{"network"}),
		diverged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_batch_diverged_slots",
			Help: "Slots in the latest batch where clients report different block hashes",
		}, []string{"network"}),
		clientSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_client_slots",
			Help: "Observations in the latest batch by client and status",
		}, []string{"network", "client", "status"}),
		clientBoosted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_client_proposer_boost_slots",
			Help: "Observations in the latest batch seen inside the proposer boost window",
		}, []string{"network", "client"}),
		endpointUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_backend_up",
			Help: "Backend endpoint status (1=up, 0=down)",
		}, []string{"endpoint"}),
		endpointLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_backend_latency_seconds",
			Help: "Latency of the last request per backend endpoint",
		}, []string{"endpoint"}),
		endpointCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_backend_last_check_timestamp",
			Help: "Unix timestamp of the last request per backend endpoint",
		}, []string{"endpoint"}),
	}

	e.registry.MustRegister(
		e.fetches,
		e.fetchDuration,
		e.dropped,
		e.fetchFailing,
		e.lastSuccess,
		e.windowSize,
		e.displayed,
		e.batchSlots,
		e.headSlot,
		e.diverged,
		e.clientSlots,
		e.clientBoosted,
		e.endpointUp,
		e.endpointLatency,
		e.endpointCheck,
	)
	return e
}

// Handler serves the exporter's registry, refreshing endpoint gauges first.
func (e *Exporter) Handler() http.Handler {
	h := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Update()
		h.ServeHTTP(w, r)
	})
}

func (e *Exporter) RecordFetch(network string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	e.fetches.WithLabelValues(network, result).Inc()
	e.fetchDuration.WithLabelValues(network).Observe(took.Seconds())
}

func (e *Exporter) RecordDropped(network, reason string) {
	e.dropped.WithLabelValues(network, reason).Inc()
}

// RecordView updates the per-network gauges from a published poller view.
func (e *Exporter) RecordView(v poller.View) {
	if v.Network == "" {
		return
	}
	labels := prometheus.Labels{"network": v.Network}

	failing := 0.0
	if v.Err != nil {
		failing = 1.0
	}
	e.fetchFailing.With(labels).Set(failing)
	if !v.LastSuccess.IsZero() {
		e.lastSuccess.With(labels).Set(float64(v.LastSuccess.Unix()))
	}
	e.windowSize.With(labels).Set(float64(v.WindowSize))
	e.displayed.With(labels).Set(float64(len(v.DisplaySlots)))
	e.batchSlots.With(labels).Set(float64(len(v.AllSlots)))

	head, diverged := uint64(0), 0
	for _, s := range v.AllSlots {
		if s.Number > head {
			head = s.Number
		}
		if s.Diverged() {
			diverged++
		}
	}
	e.headSlot.With(labels).Set(float64(head))
	e.diverged.With(labels).Set(float64(diverged))

	e.clientSlots.DeletePartialMatch(labels)
	e.clientBoosted.DeletePartialMatch(labels)
	for _, c := range view.Summarize(v.AllSlots, e.clientIDs(v.AllSlots)) {
		e.clientSlots.WithLabelValues(v.Network, c.Client, string(slots.StatusProduced)).Set(float64(c.Produced))
		e.clientSlots.WithLabelValues(v.Network, c.Client, string(slots.StatusMissed)).Set(float64(c.Missed))
		e.clientSlots.WithLabelValues(v.Network, c.Client, string(slots.StatusReorged)).Set(float64(c.Reorged))
		e.clientSlots.WithLabelValues(v.Network, c.Client, string(slots.StatusUnknown)).Set(float64(c.Unknown))
		e.clientBoosted.WithLabelValues(v.Network, c.Client).Set(float64(c.Boosted))
	}
}

// Update refreshes the backend endpoint gauges.
func (e *Exporter) Update() {
	if e.endpoints == nil {
		return
	}
	for name, st := range e.endpoints.Status() {
		up := 0.0
		if st.Healthy {
			up = 1.0
		}
		e.endpointUp.WithLabelValues(name).Set(up)
		e.endpointLatency.WithLabelValues(name).Set(st.Latency.Seconds())
		if !st.LastCheck.IsZero() {
			e.endpointCheck.WithLabelValues(name).Set(float64(st.LastCheck.Unix()))
		} else {
			e.endpointCheck.WithLabelValues(name).Set(0)
		}
	}
}

func (e *Exporter) clientIDs(ss []slots.Slot) []string {
	if e.clients != nil {
		if ids := e.clients.List(); len(ids) > 0 {
			return ids
		}
	}
	seen := make(map[string]bool)
	var ids []string
	for _, s := range ss {
		for id := range s.ByClient {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
