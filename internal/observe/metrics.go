// Package observe wires OpenTelemetry metrics and tracing for the game
// server and provides the HTTP middleware that records them.
//
// Instruments are created from a [metric.MeterProvider]; [InitProvider]
// installs one backed by a Prometheus exporter so /metrics can be scraped.
// Tests build their own [Metrics] with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/lastecho"

// Metrics holds every instrument the server records. The OTel instruments
// synchronise internally.
type Metrics struct {
	// ResolveDuration is the time from an attack request to its result.
	ResolveDuration metric.Float64Histogram

	// Attacks counts resolved attacks by outcome and class.
	Attacks metric.Int64Counter

	// Damage is the damage distribution of landed attacks by class.
	Damage metric.Int64Histogram

	// PeakLevel is the peak level (0-100) seen when an attack resolves.
	PeakLevel metric.Float64Histogram

	// Victories counts defeated monsters by monster id.
	Victories metric.Int64Counter

	// Trials counts finished trial attempts by trial id and status.
	Trials metric.Int64Counter

	// MicFailures counts refused microphone requests by failure kind.
	MicFailures metric.Int64Counter

	// RewardErrors counts experience grants that could not be stored.
	RewardErrors metric.Int64Counter

	// RecogniserStarts counts speech stream starts by status.
	RecogniserStarts metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker and
	// target state.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions is the number of connected combat or trial sockets.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}
	damageBuckets  = []float64{0, 10, 25, 50, 100, 250, 500, 1000, 2000}
	levelBuckets   = []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100}
)

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ResolveDuration, err = m.Float64Histogram("lastecho.combat.resolve.duration",
		metric.WithDescription("Time to resolve one attack."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Attacks, err = m.Int64Counter("lastecho.combat.attacks",
		metric.WithDescription("Resolved attacks by outcome and class."),
	); err != nil {
		return nil, err
	}
	if met.Damage, err = m.Int64Histogram("lastecho.combat.damage",
		metric.WithDescription("Damage dealt by landed attacks."),
		metric.WithExplicitBucketBoundaries(damageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PeakLevel, err = m.Float64Histogram("lastecho.combat.peak_level",
		metric.WithDescription("Peak voice level when an attack resolves."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Victories, err = m.Int64Counter("lastecho.combat.victories",
		metric.WithDescription("Defeated monsters by monster id."),
	); err != nil {
		return nil, err
	}
	if met.Trials, err = m.Int64Counter("lastecho.trials.finished",
		metric.WithDescription("Finished trial attempts by trial and status."),
	); err != nil {
		return nil, err
	}
	if met.MicFailures, err = m.Int64Counter("lastecho.mic.failures",
		metric.WithDescription("Refused microphone requests by failure kind."),
	); err != nil {
		return nil, err
	}
	if met.RewardErrors, err = m.Int64Counter("lastecho.progress.reward_errors",
		metric.WithDescription("Experience grants that failed to persist."),
	); err != nil {
		return nil, err
	}
	if met.RecogniserStarts, err = m.Int64Counter("lastecho.stt.starts",
		metric.WithDescription("Speech recognition stream starts by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("lastecho.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lastecho.active_sessions",
		metric.WithDescription("Connected combat and trial sockets."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lastecho.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider at first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAttack records one resolved attack. Damage is only observed for
// attacks that dealt some.
func (m *Metrics) RecordAttack(ctx context.Context, outcome, class string, damage int, peak float64) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("class", class),
	)
	m.Attacks.Add(ctx, 1, attrs)
	m.PeakLevel.Record(ctx, peak, metric.WithAttributes(attribute.String("outcome", outcome)))
	if damage > 0 {
		m.Damage.Record(ctx, int64(damage), metric.WithAttributes(attribute.String("class", class)))
	}
}

// RecordVictory counts a defeated monster.
func (m *Metrics) RecordVictory(ctx context.Context, monsterID string) {
	m.Victories.Add(ctx, 1, metric.WithAttributes(attribute.String("monster", monsterID)))
}

// RecordTrial counts a finished trial attempt.
func (m *Metrics) RecordTrial(ctx context.Context, trialID, status string) {
	m.Trials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trial", trialID),
		attribute.String("status", status),
	))
}

// RecordMicFailure counts a refused microphone request.
func (m *Metrics) RecordMicFailure(ctx context.Context, kind string) {
	m.MicFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRecogniserStart counts a speech stream start; status is "ok" or
// "degraded".
func (m *Metrics) RecordRecogniserStart(ctx context.Context, status string) {
	m.RecogniserStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition counts a breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
}
