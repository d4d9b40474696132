// Package health owns the gateway's Prometheus metrics registry and the
// HTTP endpoint that exposes it. Every other component is handed the
// narrow slice of this Registry it needs at construction time — nothing
// here is read through a package-level global.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gasmesh/gateway/pkg/log"
)

// Registry collects every gauge, counter, and histogram the gateway
// exposes. One Registry is constructed at startup and its fields handed
// to the tasks that populate them.
type Registry struct {
	reg *prometheus.Registry

	FramesTotal         *prometheus.CounterVec
	ChecksumErrorsTotal *prometheus.CounterVec
	JunkBytesTotal      *prometheus.CounterVec
	DesyncTotal         *prometheus.CounterVec
	OversizedTotal      *prometheus.CounterVec
	SampleDropsTotal    *prometheus.CounterVec
	ReconnectsTotal     *prometheus.CounterVec
	LinkUp              *prometheus.GaugeVec
	ChecksumErrorRatio  *prometheus.GaugeVec

	MatchesTotal      *prometheus.CounterVec
	OrphansTotal      *prometheus.CounterVec
	DirectLossesTotal *prometheus.CounterVec
	MatchLatency      *prometheus.HistogramVec

	StoreDroppedTotal prometheus.Counter
	StoreQueueDepth   prometheus.Gauge
}

// New constructs a Registry with every metric registered under its own
// prometheus.Registry, not the global DefaultRegisterer, so multiple
// gateways (or tests) can coexist in one process.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_total",
			Help: "Frames successfully decoded into a Sample, by link.",
		}, []string{"link_id"}),
		ChecksumErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_checksum_errors_total",
			Help: "Gen2 payloads rejected for a bad checksum, by link.",
		}, []string{"link_id"}),
		JunkBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_junk_bytes_total",
			Help: "Bytes discarded by the frame demultiplexer while resynchronising, by link.",
		}, []string{"link_id"}),
		DesyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_desync_events_total",
			Help: "Times the frame demultiplexer exceeded its junk-byte threshold, by link.",
		}, []string{"link_id"}),
		OversizedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_oversized_frames_total",
			Help: "Frames rejected for exceeding the configured maximum length, by link.",
		}, []string{"link_id"}),
		SampleDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_sample_drops_total",
			Help: "Samples dropped because a link's outbound channel was full, by link.",
		}, []string{"link_id"}),
		ReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_reconnects_total",
			Help: "Times a link's receiver reopened the serial port after an error, by link.",
		}, []string{"link_id"}),
		LinkUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_link_up",
			Help: "1 if a link's serial port is currently open, 0 otherwise.",
		}, []string{"link_id"}),
		ChecksumErrorRatio: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_checksum_error_ratio",
			Help: "Rolling fraction of frames on a link rejected for a bad checksum.",
		}, []string{"link_id"}),
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_matches_total",
			Help: "Direct/primary sample pairs matched by the correlator, by channel.",
		}, []string{"channel"}),
		OrphansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_orphans_total",
			Help: "Primary samples with no matching direct observation, by channel.",
		}, []string{"channel"}),
		DirectLossesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_direct_losses_total",
			Help: "Direct samples evicted from the pending queue before a match arrived, by channel.",
		}, []string{"channel"}),
		MatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_match_latency_seconds",
			Help:    "Time between a direct observation and its matching primary observation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		StoreDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_store_drops_total",
			Help: "Writes discarded because the store's queue was full.",
		}),
		StoreQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_queue_depth",
			Help: "Pending items in the store's write queue, sampled periodically.",
		}),
	}
}

// Handler returns the HTTP handler exposing this Registry in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing Handler on addr until ctx is
// cancelled.
func Serve(ctx context.Context, addr string, reg *Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("health: shutting down metrics server on %s", addr)
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
