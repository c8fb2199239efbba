package metrics

import (
	"time"

	"github.com/fiestalabs/fiesta/internal/observability"
)

// Application metric names
const (
	ProviderCallsTotal      = "provider_calls_total"
	ProviderCallDuration    = "provider_call_duration_ms"
	ProviderFallbacksTotal  = "provider_fallbacks_total"
	RateLimitDecisionsTotal = "rate_limit_decisions_total"
	StreamEventsTotal       = "stream_events_total"
	ActiveStreams           = "active_streams"
	HealthCheckTotal        = "health_check_total"
	HealthCheckDuration     = "health_check_duration_ms"
	ServerStartTime         = "server_start_time_seconds"
)

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

func histogram(name string, d time.Duration, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(name, d, labels)
	}
}

func gauge(name string, v float64, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, v, labels)
	}
}

// RecordProviderCall records one adapter invocation. outcome is one of
// success, error or aborted.
func RecordProviderCall(provider, outcome string, duration time.Duration) {
	labels := map[string]string{"provider": provider, "outcome": outcome}
	counter(ProviderCallsTotal, labels)
	histogram(ProviderCallDuration, duration, map[string]string{"provider": provider})
}

// RecordProviderFallback records a retry with the provider's default model.
func RecordProviderFallback(provider string, recovered bool) {
	status := "recovered"
	if !recovered {
		status = "failed"
	}
	counter(ProviderFallbacksTotal, map[string]string{"provider": provider, "status": status})
}

// RecordRateLimitDecision records an admission decision of the API limiter.
func RecordRateLimitDecision(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	counter(RateLimitDecisionsTotal, map[string]string{"decision": decision})
}

// RecordStreamEvent records one emitted stream event by kind.
func RecordStreamEvent(provider, kind string) {
	counter(StreamEventsTotal, map[string]string{"provider": provider, "kind": kind})
}

// SetActiveStreams reports the number of open SSE responses.
func SetActiveStreams(count int64) {
	gauge(ActiveStreams, float64(count), nil)
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	counter(HealthCheckTotal, map[string]string{"check": checkName, "status": status})
	histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}
