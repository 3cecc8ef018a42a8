package main

import (
	"log"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds the receiver's metric collectors. All values are
// updated once per decoded block from the decode thread.
type PrometheusMetrics struct {
	ifLevelDB       prometheus.Gauge
	basebandLevelDB prometheus.Gauge
	audioLevelDB    prometheus.Gauge
	pilotLevel      prometheus.Gauge
	stereoDetected  prometheus.Gauge
	bufferSeconds   prometheus.Gauge

	blocksTotal        prometheus.Counter
	droppedBlocksTotal prometheus.Counter
	underrunsTotal     prometheus.Counter
	ppsEventsTotal     prometheus.Counter

	lastDropped   uint64
	lastUnderruns uint64
}

// NewPrometheusMetrics creates and registers the metric collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		ifLevelDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_if_level_db",
			Help: "RMS level of the tuned IF signal in dB",
		}),
		basebandLevelDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_baseband_level_db",
			Help: "RMS level of the discriminator output in dB",
		}),
		audioLevelDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_audio_level_db",
			Help: "Smoothed audio RMS in dB",
		}),
		pilotLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_pilot_level",
			Help: "RMS level of the 19 kHz stereo pilot",
		}),
		stereoDetected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_stereo_detected",
			Help: "1 when the pilot PLL is locked and stereo decoding is active",
		}),
		bufferSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "softfm_buffer_seconds",
			Help: "Output buffer fill in seconds",
		}),
		blocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "softfm_blocks_total",
			Help: "Total I/Q blocks decoded",
		}),
		droppedBlocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "softfm_dropped_blocks_total",
			Help: "Capture blocks dropped because the hand-off queue was full",
		}),
		underrunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "softfm_underruns_total",
			Help: "Playback underruns",
		}),
		ppsEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "softfm_pps_events_total",
			Help: "Pulse-per-second events emitted by the pilot PLL",
		}),
	}
}

// UpdateBlock records the per-block decoder state.
func (m *PrometheusMetrics) UpdateBlock(dec *FmDecoder, bufferSecs float64, dropped, underruns uint64, ppsEvents int) {
	if m == nil {
		return
	}
	m.ifLevelDB.Set(20 * math.Log10(dec.IFLevel()))
	m.basebandLevelDB.Set(20*math.Log10(dec.BasebandLevel()) + 3.01)
	m.audioLevelDB.Set(20*math.Log10(dec.AudioLevel()) + 3.01)
	m.pilotLevel.Set(dec.PilotLevel())
	if dec.StereoDetected() {
		m.stereoDetected.Set(1)
	} else {
		m.stereoDetected.Set(0)
	}
	m.bufferSeconds.Set(bufferSecs)
	m.blocksTotal.Inc()
	if dropped > m.lastDropped {
		m.droppedBlocksTotal.Add(float64(dropped - m.lastDropped))
		m.lastDropped = dropped
	}
	if underruns > m.lastUnderruns {
		m.underrunsTotal.Add(float64(underruns - m.lastUnderruns))
		m.lastUnderruns = underruns
	}
	if ppsEvents > 0 {
		m.ppsEventsTotal.Add(float64(ppsEvents))
	}
}

// startMetricsServer exposes /metrics on the given address in a background
// goroutine.
func startMetricsServer(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("Prometheus metrics listening on %s", listen)
		if err := http.ListenAndServe(listen, mux); err != nil {
			log.Printf("WARNING: metrics server stopped: %v", err)
		}
	}()
}
