package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicedesk"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	activeCalls         *prometheus.GaugeVec
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	providerCooldown *prometheus.GaugeVec

	speechRequestTotal    *prometheus.CounterVec
	speechRequestDuration *prometheus.HistogramVec

	turnsTotal   *prometheus.CounterVec
	recordsSaved *prometheus.CounterVec
	contentItems *prometheus.GaugeVec

	llmTokensTotal     *prometheus.CounterVec
	sttAudioSeconds    prometheus.Counter
	ttsCharactersTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total completed tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Task execution duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "stored_transcripts",
					Help:      "Number of transcripts on disk.",
				},
			),
			activeCalls: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_calls",
					Help:      "Open conversation sessions by persona.",
				},
				[]string{"persona"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "transcript_load_duration_seconds",
					Help:      "Transcript load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "transcript_save_duration_seconds",
					Help:      "Transcript append duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total LLM runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "LLM run duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_cooldown_active",
					Help:      "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			speechRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "speech_request_total",
					Help:      "Speech service requests by kind (stt, tts), provider and status.",
				},
				[]string{"kind", "provider", "status"},
			),
			speechRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "speech_request_duration_seconds",
					Help:      "Speech service request duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"kind", "provider"},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "conversation_turns_total",
					Help:      "Conversation turns by persona and source (llm, scripted).",
				},
				[]string{"persona", "source"},
			),
			recordsSaved: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "records_saved_total",
					Help:      "Persisted records by kind and status.",
				},
				[]string{"kind", "status"},
			),
			contentItems: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "content_items",
					Help:      "Loaded static content entries by set.",
				},
				[]string{"set"},
			),
			llmTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_tokens_total",
					Help:      "LLM tokens consumed by direction (input, output).",
				},
				[]string{"direction"},
			),
			sttAudioSeconds: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stt_audio_seconds_total",
					Help:      "Seconds of audio sent to speech-to-text.",
				},
			),
			ttsCharactersTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tts_characters_total",
					Help:      "Characters sent to text-to-speech.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.activeCalls,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.providerCooldown,
			m.speechRequestTotal,
			m.speechRequestDuration,
			m.turnsTotal,
			m.recordsSaved,
			m.contentItems,
			m.llmTokensTotal,
			m.sttAudioSeconds,
			m.ttsCharactersTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetStoredTranscripts(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func AddActiveCall(persona string, delta int) {
	getMetrics().activeCalls.WithLabelValues(persona).Add(float64(delta))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

// RecordSpeechRequest records one STT or TTS round trip.
func RecordSpeechRequest(kind, provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.speechRequestTotal.WithLabelValues(kind, provider, status(success)).Inc()
	m.speechRequestDuration.WithLabelValues(kind, provider).Observe(duration.Seconds())
}

func RecordTurn(persona, source string) {
	getMetrics().turnsTotal.WithLabelValues(persona, source).Inc()
}

func RecordSaved(kind string, success bool) {
	getMetrics().recordsSaved.WithLabelValues(kind, status(success)).Inc()
}

func SetContentItems(set string, count int) {
	getMetrics().contentItems.WithLabelValues(set).Set(float64(count))
}
