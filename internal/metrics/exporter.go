// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/stackveil/internal/logging"
)

// ExportConfig configures the metrics HTTP endpoint.
type ExportConfig struct {
	// Listen address for /metrics and /stats.
	// @default: "127.0.0.1:9469"
	Listen string `hcl:"listen,optional" json:"listen" yaml:"listen"`
	// Include Go runtime and process collectors.
	// @default: false
	RuntimeMetrics bool `hcl:"runtime_metrics,optional" json:"runtime_metrics" yaml:"runtime_metrics"`
}

// DefaultExportConfig returns a loopback-only endpoint.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{Listen: "127.0.0.1:9469"}
}

// Exporter serves Prometheus metrics and a JSON snapshot over HTTP.
type Exporter struct {
	config   ExportConfig
	source   Snapshotter
	registry *prometheus.Registry
	logger   *logging.Logger
}

// NewExporter builds an exporter with its own registry so tests and multiple
// engines never collide on the global one.
func NewExporter(source Snapshotter, config ExportConfig, logger *logging.Logger) *Exporter {
	if config.Listen == "" {
		config.Listen = DefaultExportConfig().Listen
	}
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	if config.RuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return &Exporter{config: config, source: source, registry: reg, logger: logger}
}

// Handler returns the HTTP mux serving /metrics and /stats.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", e.handleJSON)
	return mux
}

func (e *Exporter) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.source.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Run serves until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.config.Listen)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	e.logger.Info("Metrics endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
