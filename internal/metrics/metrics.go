// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RenderPasses counts compositor passes that actually drew the surface.
	RenderPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchvideo_render_passes_total",
		Help: "Total compositor render passes",
	})

	// RenderSkips counts updates skipped because the time did not change.
	RenderSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchvideo_render_skips_total",
		Help: "Total compositor updates skipped as redundant",
	})

	// DecoderLoads tracks source loads by result (ok, error).
	DecoderLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchvideo_decoder_loads_total",
		Help: "Total media source loads",
	}, []string{"result"})

	// DecodersOpen is the number of decoders in the registry.
	DecodersOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchvideo_decoders_open",
		Help: "Decoders currently registered with the compositor",
	})

	// ExportsTotal tracks finished exports by kind (video, audio) and status.
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchvideo_exports_total",
		Help: "Total exports by kind and status",
	}, []string{"kind", "status"})

	// ExportDuration tracks wall time of exports.
	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "launchvideo_export_duration_seconds",
		Help:    "Wall time of exports",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 10), // 0.5s to ~4m
	}, []string{"kind"})

	// ExportFrames counts frames handed to the muxer.
	ExportFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchvideo_export_frames_total",
		Help: "Total frames encoded by video exports",
	})

	// AudioSegments tracks per-clip audio extraction by result (ok, skipped, error).
	AudioSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchvideo_audio_segments_total",
		Help: "Audio segments processed during track assembly",
	}, []string{"result"})

	// OverlayGenerations tracks overlay generation requests by result.
	OverlayGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchvideo_overlay_generations_total",
		Help: "Overlay generation requests by result",
	}, []string{"result"})

	// HTTPRequests tracks API requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchvideo_http_requests_total",
		Help: "API requests by route and status",
	}, []string{"route", "status"})
)
