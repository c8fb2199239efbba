package observability

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

const defaultNamespace = "fiesta"

var (
	// TelemetrySystem receives every counter, histogram and gauge. Nil
	// disables metric emission.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape page that /metrics proxies.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port and installs a telemetry
// system that emits into it. Port 0 binds a free port, reported afterwards by
// GetMetricsPort. Metric names are prefixed with namespace.
func InitMetrics(namespace string, port int) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	port = max(port, 0)

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("telemetry system: %w", err)
	}

	if bound, ok := listenPort(exporter.GetAddr()); ok {
		port = bound
	}
	PrometheusExporter, TelemetrySystem, metricsPort = exporter, sys, port
	return nil
}

// ShutdownMetrics stops the exporter and disables emission. Safe to call when
// metrics were never initialized.
func ShutdownMetrics() error {
	exporter := PrometheusExporter
	PrometheusExporter, TelemetrySystem, metricsPort = nil, nil, 0
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the exporter's listening port, 0 when not running.
func GetMetricsPort() int {
	return metricsPort
}

func listenPort(addr string) (int, bool) {
	_, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		return 0, false
	}
	return port, true
}
