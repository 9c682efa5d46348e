package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StabilizationMetrics struct {
	measurementPrice prometheus.Gauge
	targetPrice      prometheus.Gauge
	controlPrice     prometheus.Gauge
	condensationRate prometheus.Gauge
	poolSize         *prometheus.GaugeVec
	swapsTotal       *prometheus.CounterVec
	claimsTotal      *prometheus.CounterVec
	opFailures       *prometheus.CounterVec
}

var (
	stabilizationOnce     sync.Once
	stabilizationRegistry *StabilizationMetrics
)

func Stabilization() *StabilizationMetrics {
	stabilizationOnce.Do(func() {
		stabilizationRegistry = &StabilizationMetrics{
			measurementPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stabilization_measurement_price",
				Help: "Current measurement token price in stable token units.",
			}),
			targetPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stabilization_target_price",
				Help: "Current controller target price.",
			}),
			controlPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stabilization_control_price",
				Help: "Current control token price in stable token units.",
			}),
			condensationRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stabilization_condensation_rate",
				Help: "Current condensation reward rate.",
			}),
			poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stabilization_pool_size",
				Help: "Virtual pool reserve sizes by pool and side.",
			}, []string{"pool", "side"}),
			swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stabilization_swaps_total",
				Help: "Count of executed swaps by token pair.",
			}, []string{"pair"}),
			claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stabilization_claims_total",
				Help: "Count of executed reward claims by source token.",
			}, []string{"source"}),
			opFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stabilization_op_failures_total",
				Help: "Count of rejected engine operations by reason.",
			}, []string{"op", "reason"}),
		}
		prometheus.MustRegister(
			stabilizationRegistry.measurementPrice,
			stabilizationRegistry.targetPrice,
			stabilizationRegistry.controlPrice,
			stabilizationRegistry.condensationRate,
			stabilizationRegistry.poolSize,
			stabilizationRegistry.swapsTotal,
			stabilizationRegistry.claimsTotal,
			stabilizationRegistry.opFailures,
		)
	})
	return stabilizationRegistry
}

func (m *StabilizationMetrics) SetMeasurementPrice(v float64) {
	if m == nil {
		return
	}
	m.measurementPrice.Set(v)
}

func (m *StabilizationMetrics) SetTargetPrice(v float64) {
	if m == nil {
		return
	}
	m.targetPrice.Set(v)
}

func (m *StabilizationMetrics) SetControlPrice(v float64) {
	if m == nil {
		return
	}
	m.controlPrice.Set(v)
}

func (m *StabilizationMetrics) SetCondensationRate(v float64) {
	if m == nil {
		return
	}
	m.condensationRate.Set(v)
}

func (m *StabilizationMetrics) SetPoolSize(pool, side string, v float64) {
	if m == nil {
		return
	}
	m.poolSize.WithLabelValues(pool, side).Set(v)
}

func (m *StabilizationMetrics) ObserveSwap(pair string) {
	if m == nil {
		return
	}
	if pair == "" {
		pair = "unknown"
	}
	m.swapsTotal.WithLabelValues(pair).Inc()
}

func (m *StabilizationMetrics) ObserveClaim(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.claimsTotal.WithLabelValues(source).Inc()
}

func (m *StabilizationMetrics) ObserveFailure(op, reason string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.opFailures.WithLabelValues(op, reason).Inc()
}
