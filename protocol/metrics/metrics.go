// Package metrics exposes Prometheus instrumentation for the CDP protocol
// core, following the lazily-initialized, package-level registry pattern
// used throughout observability/metrics.go.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Registry struct {
	tcr                    prometheus.Gauge
	baseRateBps            prometheus.Gauge
	debtCeilingUtilization prometheus.Gauge
	recoveryModeActive     prometheus.Gauge

	liquidations  *prometheus.CounterVec
	redemptions   prometheus.Counter
	recoveryFlips *prometheus.CounterVec
}

var (
	once sync.Once
	reg  *Registry
)

// Protocol returns the lazily-initialized protocol metrics registry.
func Protocol() *Registry {
	once.Do(func() {
		reg = &Registry{
			tcr: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "total_collateral_ratio_bps",
				Help:      "System-wide total collateral ratio in basis points.",
			}),
			baseRateBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "redemption_base_rate_bps",
				Help:      "Current decaying base rate feeding the redemption and borrowing fee formulas, in basis points.",
			}),
			debtCeilingUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "debt_ceiling_utilization_bps",
				Help:      "Total system debt as a fraction of the configured debt ceiling, in basis points.",
			}),
			recoveryModeActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "recovery_mode_active",
				Help:      "1 if recovery mode is currently active, 0 otherwise.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "liquidations_total",
				Help:      "Total CDP liquidations segmented by mode (pool_absorb, direct).",
			}, []string{"mode"}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "redemptions_total",
				Help:      "Total Redeem operations accepted.",
			}),
			recoveryFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "recovery_mode_transitions_total",
				Help:      "Total recovery mode transitions segmented by direction (entered, exited).",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(
			reg.tcr,
			reg.baseRateBps,
			reg.debtCeilingUtilization,
			reg.recoveryModeActive,
			reg.liquidations,
			reg.redemptions,
			reg.recoveryFlips,
		)
	})
	return reg
}

// SetTCR records the system-wide total collateral ratio. ratio is the raw
// amounts.Bps value; callers pass math.MaxUint64 (amounts.MaxRatio) through
// unchanged, which simply pins the gauge at its max representable value.
func (r *Registry) SetTCR(ratioBps uint64) {
	if r == nil {
		return
	}
	r.tcr.Set(float64(ratioBps))
}

// SetBaseRate records the fee engine's current decaying base rate.
func (r *Registry) SetBaseRate(bps uint64) {
	if r == nil {
		return
	}
	r.baseRateBps.Set(float64(bps))
}

// SetDebtCeilingUtilization records total system debt as a fraction (in bps)
// of the configured debt ceiling.
func (r *Registry) SetDebtCeilingUtilization(bps uint64) {
	if r == nil {
		return
	}
	r.debtCeilingUtilization.Set(float64(bps))
}

// SetRecoveryModeActive updates the recovery-mode gauge and increments the
// matching direction counter on every call; the state machine calls it only
// when recovery mode flips.
func (r *Registry) SetRecoveryModeActive(active bool) {
	if r == nil {
		return
	}
	if active {
		r.recoveryModeActive.Set(1)
		r.recoveryFlips.WithLabelValues("entered").Inc()
	} else {
		r.recoveryModeActive.Set(0)
		r.recoveryFlips.WithLabelValues("exited").Inc()
	}
}

// RecordLiquidation increments the liquidation counter for mode
// ("pool_absorb" or "direct", as returned by liquidation.Mode.String).
func (r *Registry) RecordLiquidation(mode string) {
	if r == nil {
		return
	}
	r.liquidations.WithLabelValues(mode).Inc()
}

// RecordRedemption increments the redemption counter.
func (r *Registry) RecordRedemption() {
	if r == nil {
		return
	}
	r.redemptions.Inc()
}
