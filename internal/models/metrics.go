package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot surfaced by the metrics
// endpoint for dashboards that do not scrape Prometheus.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	RecalcStepsTotal         uint64    `json:"recalc_steps_total"`
	GuardSkipsTotal          uint64    `json:"guard_skips_total"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
