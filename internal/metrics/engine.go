// SPDX-License-Identifier: MIT

// Package metrics provides the Prometheus metrics of the stretch engine.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains the metrics updated by the audio callback and the
// control surface. Every per-voice series is created up front so that the
// audio thread only touches pre-resolved collectors.
type EngineMetrics struct {
	Callbacks         prometheus.Counter
	CallbackErrors    prometheus.Counter
	CallbackDuration  prometheus.Histogram
	VoiceFailures     prometheus.Counter
	Xruns             prometheus.Counter
	TapInvalidations  prometheus.Counter
	Transients        prometheus.Counter
	Cues              prometheus.Counter
	ActiveVoices      prometheus.Gauge
	IntentsApplied    prometheus.Counter
	IntentsRejected   prometheus.Counter
	OutboundDropped   prometheus.Counter
	ControlClients    prometheus.Gauge
	RecordingFrames   prometheus.Counter
	voiceLevel        *prometheus.GaugeVec
	voiceStretch      *prometheus.GaugeVec
	VoiceLevels       []prometheus.Gauge
	VoiceStretchAmnts []prometheus.Gauge
}

// NewEngineMetrics creates the engine metrics for a pool of voices and
// registers them with registry.
func NewEngineMetrics(registry prometheus.Registerer, voices int) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	m.initMetrics(voices)
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics(voices int) {
	m.Callbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_callbacks_total",
		Help: "Total number of audio callbacks processed",
	})
	m.CallbackErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_callback_errors_total",
		Help: "Total number of audio callbacks that produced silence after an error or panic",
	})
	m.CallbackDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paulring_callback_duration_seconds",
		Help:    "Time spent inside the audio callback",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	m.VoiceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_voice_failures_total",
		Help: "Total number of voices dropped from the mix after their step failed",
	})
	m.Xruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_xruns_total",
		Help: "Total number of input overflows and output underflows reported by the audio backend",
	})
	m.TapInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_tap_invalidations_total",
		Help: "Total number of voice taps overrun by the writer",
	})
	m.Transients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_transients_total",
		Help: "Total number of transient blocks detected in the input",
	})
	m.Cues = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_cues_total",
		Help: "Total number of voices started at a transient",
	})
	m.ActiveVoices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paulring_active_voices",
		Help: "Number of voices currently producing output",
	})
	m.IntentsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_intents_applied_total",
		Help: "Total number of control intents applied by the audio thread",
	})
	m.IntentsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_intents_rejected_total",
		Help: "Total number of control intents rejected or dropped",
	})
	m.OutboundDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_outbound_dropped_total",
		Help: "Total number of outbound level or indicator messages dropped",
	})
	m.ControlClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paulring_control_clients",
		Help: "Number of connected control surface clients",
	})
	m.RecordingFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paulring_recording_frames_total",
		Help: "Total number of stereo frames written to the recording",
	})
	m.voiceLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paulring_voice_level",
		Help: "Input energy under each voice's tap, scaled to 0..1",
	}, []string{"voice"})
	m.voiceStretch = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paulring_voice_stretch_amount",
		Help: "Stretch amount of each voice",
	}, []string{"voice"})

	m.VoiceLevels = make([]prometheus.Gauge, voices)
	m.VoiceStretchAmnts = make([]prometheus.Gauge, voices)
	for i := range voices {
		label := strconv.Itoa(i)
		m.VoiceLevels[i] = m.voiceLevel.WithLabelValues(label)
		m.VoiceStretchAmnts[i] = m.voiceStretch.WithLabelValues(label)
	}
}

// ObserveCallback records one callback and its duration.
func (m *EngineMetrics) ObserveCallback(d time.Duration) {
	m.Callbacks.Inc()
	m.CallbackDuration.Observe(d.Seconds())
}

// SetVoiceLevel records the level of voice i; out of range voices are ignored.
func (m *EngineMetrics) SetVoiceLevel(i int, level float64) {
	if i >= 0 && i < len(m.VoiceLevels) {
		m.VoiceLevels[i].Set(level)
	}
}

// SetVoiceStretch records the stretch amount of voice i.
func (m *EngineMetrics) SetVoiceStretch(i int, amount float64) {
	if i >= 0 && i < len(m.VoiceStretchAmnts) {
		m.VoiceStretchAmnts[i].Set(amount)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Callbacks.Desc()
	ch <- m.CallbackErrors.Desc()
	ch <- m.CallbackDuration.Desc()
	ch <- m.VoiceFailures.Desc()
	ch <- m.Xruns.Desc()
	ch <- m.TapInvalidations.Desc()
	ch <- m.Transients.Desc()
	ch <- m.Cues.Desc()
	ch <- m.ActiveVoices.Desc()
	ch <- m.IntentsApplied.Desc()
	ch <- m.IntentsRejected.Desc()
	ch <- m.OutboundDropped.Desc()
	ch <- m.ControlClients.Desc()
	ch <- m.RecordingFrames.Desc()
	m.voiceLevel.Describe(ch)
	m.voiceStretch.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Callbacks
	ch <- m.CallbackErrors
	ch <- m.CallbackDuration
	ch <- m.VoiceFailures
	ch <- m.Xruns
	ch <- m.TapInvalidations
	ch <- m.Transients
	ch <- m.Cues
	ch <- m.ActiveVoices
	ch <- m.IntentsApplied
	ch <- m.IntentsRejected
	ch <- m.OutboundDropped
	ch <- m.ControlClients
	ch <- m.RecordingFrames
	m.voiceLevel.Collect(ch)
	m.voiceStretch.Collect(ch)
}
