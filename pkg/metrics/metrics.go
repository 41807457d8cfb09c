package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu                  sync.RWMutex
	endpoint            map[string]*EndpointStat
	authFailures        int64
	throttleDenials     map[string]int64
	activationConflicts int64
	activations         int64
	gauges              map[string]float64
	Histograms          *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt         string                  `json:"generated_at"`
	Endpoints           map[string]EndpointStat `json:"endpoints"`
	AuthFailures        int64                   `json:"auth_failures_total"`
	ThrottleDenials     map[string]int64        `json:"throttle_denials"`
	ActivationConflicts int64                   `json:"activation_conflicts_total"`
	Activations         int64                   `json:"activations_total"`
	Gauges              map[string]float64      `json:"gauges"`
	Histograms          []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:        map[string]*EndpointStat{},
		throttleDenials: map[string]int64{},
		gauges:          map[string]float64{},
		Histograms:      NewHistogramRegistry(),
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) IncAuthFailure() {
	r.mu.Lock()
	r.authFailures++
	r.mu.Unlock()
}

func (r *Registry) IncThrottleDenial(bucket string) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return
	}
	r.mu.Lock()
	r.throttleDenials[bucket]++
	r.mu.Unlock()
}

func (r *Registry) IncActivationConflict() {
	r.mu.Lock()
	r.activationConflicts++
	r.mu.Unlock()
}

func (r *Registry) IncActivation() {
	r.mu.Lock()
	r.activations++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:         time.Now().UTC().Format(time.RFC3339),
		Endpoints:           make(map[string]EndpointStat, len(r.endpoint)),
		AuthFailures:        r.authFailures,
		ThrottleDenials:     make(map[string]int64, len(r.throttleDenials)),
		ActivationConflicts: r.activationConflicts,
		Activations:         r.activations,
		Gauges:              make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.throttleDenials {
		out.ThrottleDenials[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP paradigm_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE paradigm_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "paradigm_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP paradigm_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE paradigm_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "paradigm_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP paradigm_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE paradigm_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "paradigm_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP paradigm_auth_failures_total rejected credentials\n")
		b.WriteString("# TYPE paradigm_auth_failures_total counter\n")
		fmt.Fprintf(b, "paradigm_auth_failures_total %d\n", snap.AuthFailures)
		b.WriteString("# HELP paradigm_throttle_denials_total admission denials by bucket\n")
		b.WriteString("# TYPE paradigm_throttle_denials_total counter\n")
		for _, bucket := range SortedKeys(snap.ThrottleDenials) {
			fmt.Fprintf(b, "paradigm_throttle_denials_total{bucket=%q} %d\n", bucket, snap.ThrottleDenials[bucket])
		}
		b.WriteString("# HELP paradigm_activation_conflicts_total activations that lost a transaction race\n")
		b.WriteString("# TYPE paradigm_activation_conflicts_total counter\n")
		fmt.Fprintf(b, "paradigm_activation_conflicts_total %d\n", snap.ActivationConflicts)
		b.WriteString("# HELP paradigm_activations_total committed context activations\n")
		b.WriteString("# TYPE paradigm_activations_total counter\n")
		fmt.Fprintf(b, "paradigm_activations_total %d\n", snap.Activations)
		b.WriteString("# HELP paradigm_gauge operational gauge metrics\n")
		b.WriteString("# TYPE paradigm_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "paradigm_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.WriteString("# HELP paradigm_latency_seconds latency histogram\n")
			b.WriteString("# TYPE paradigm_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "paradigm_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "paradigm_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "paradigm_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "paradigm_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "paradigm_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
