// Package metrics exposes Prometheus counters and gauges for the daemon's
// quote/swap lifecycle, built against github.com/prometheus/client_golang.
// Cumulative counters are also mirrored into a gorm-backed table so they
// survive a restart.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// row is the persisted snapshot of a single counter, keyed by name.
type row struct {
	Name  string `gorm:"primaryKey;column:name"`
	Value uint64
}

func (row) TableName() string { return "metrics" }

// Registry bundles the live Prometheus collectors with the persisted
// counter store. Swap/quote code calls its increment methods; the façade's
// /metrics handler serves Collector directly.
type Registry struct {
	db *gorm.DB

	mu      sync.Mutex
	running map[string]uint64 // cumulative totals, mirrored to the metrics table

	Collector *prometheus.Registry

	QuotesIssued   prometheus.Counter
	SwapsAccepted  prometheus.Counter
	SwapsCompleted prometheus.Counter
	SwapsRefunded  prometheus.Counter
	SwapsFailed    *prometheus.CounterVec
	ActiveSwaps    prometheus.Gauge
	VaultSecrets   prometheus.Gauge
}

// New registers every collector against a fresh prometheus.Registry and
// migrates the persisted counters table, restoring any values recorded
// before a restart.
func New(db *gorm.DB) (*Registry, error) {
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("metrics: migrate: %w", err)
	}

	r := &Registry{
		db:        db,
		running:   make(map[string]uint64),
		Collector: prometheus.NewRegistry(),

		QuotesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stealthswapd_quotes_issued_total",
			Help: "Total quotes issued by the maker.",
		}),
		SwapsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stealthswapd_swaps_accepted_total",
			Help: "Total swaps accepted from a quote.",
		}),
		SwapsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stealthswapd_swaps_completed_total",
			Help: "Total swaps that settled on both chains.",
		}),
		SwapsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stealthswapd_swaps_refunded_total",
			Help: "Total swaps that ended in a refund.",
		}),
		SwapsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stealthswapd_swaps_failed_total",
			Help: "Total swaps that ended Failed, by failure kind.",
		}, []string{"reason"}),
		ActiveSwaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stealthswapd_active_swaps",
			Help: "Swaps currently in a non-terminal state.",
		}),
		VaultSecrets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stealthswapd_vault_secrets",
			Help: "Adaptor secrets currently sealed in the vault.",
		}),
	}

	r.Collector.MustRegister(
		r.QuotesIssued, r.SwapsAccepted, r.SwapsCompleted, r.SwapsRefunded,
		r.SwapsFailed, r.ActiveSwaps, r.VaultSecrets,
	)

	if err := r.restore(); err != nil {
		return nil, err
	}
	return r, nil
}

// restore seeds each cumulative counter from its last persisted value, so
// /metrics doesn't reset to zero across a daemon restart.
func (r *Registry) restore() error {
	var rows []row
	if err := r.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("metrics: restore: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range rows {
		r.running[rec.Name] = rec.Value
		switch rec.Name {
		case "quotes_issued":
			r.QuotesIssued.Add(float64(rec.Value))
		case "swaps_accepted":
			r.SwapsAccepted.Add(float64(rec.Value))
		case "swaps_completed":
			r.SwapsCompleted.Add(float64(rec.Value))
		case "swaps_refunded":
			r.SwapsRefunded.Add(float64(rec.Value))
		}
	}
	return nil
}

// bump increments the named running total by one, persists it, and returns
// the new value.
func (r *Registry) bump(name string) uint64 {
	r.mu.Lock()
	r.running[name]++
	value := r.running[name]
	r.mu.Unlock()

	if err := r.db.Save(&row{Name: name, Value: value}).Error; err != nil {
		// Metrics persistence is best-effort: a write failure here must
		// never block the swap it is reporting on.
		return value
	}
	return value
}

// IncQuotesIssued increments and persists the quotes-issued counter.
func (r *Registry) IncQuotesIssued() {
	r.QuotesIssued.Inc()
	r.bump("quotes_issued")
}

// IncSwapsAccepted increments and persists the swaps-accepted counter.
func (r *Registry) IncSwapsAccepted() {
	r.SwapsAccepted.Inc()
	r.bump("swaps_accepted")
}

// IncSwapsCompleted increments and persists the swaps-completed counter.
func (r *Registry) IncSwapsCompleted() {
	r.SwapsCompleted.Inc()
	r.bump("swaps_completed")
}

// IncSwapsRefunded increments and persists the swaps-refunded counter.
func (r *Registry) IncSwapsRefunded() {
	r.SwapsRefunded.Inc()
	r.bump("swaps_refunded")
}

// IncSwapsFailed increments the failed-swaps counter for reason.
func (r *Registry) IncSwapsFailed(reason string) {
	r.SwapsFailed.WithLabelValues(reason).Inc()
}

// SetActiveSwaps sets the active-swaps gauge to n.
func (r *Registry) SetActiveSwaps(n int) {
	r.ActiveSwaps.Set(float64(n))
}

// SetVaultSecrets sets the sealed-secret gauge to n.
func (r *Registry) SetVaultSecrets(n int) {
	r.VaultSecrets.Set(float64(n))
}
