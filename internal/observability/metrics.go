package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "booking_agent_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_agent_calls_total",
		Help: "Total number of calls processed",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_agent_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// ASR metrics
	asrRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_asr_requests_total",
		Help: "Total number of ASR requests",
	}, []string{"status"})

	asrLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_agent_asr_latency_seconds",
		Help:    "ASR processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_agent_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// LLM metrics (intent/entity extraction calls)
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_llm_requests_total",
		Help: "Total number of LLM extraction requests",
	}, []string{"status"})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_agent_llm_latency_seconds",
		Help:    "LLM extraction latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "booking_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Booking dialogue metrics
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_state_transitions_total",
		Help: "Total booking state machine transitions",
	}, []string{"from", "to"})

	slotRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_slot_retries_total",
		Help: "Total retry prompts issued per slot",
	}, []string{"slot"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_fallbacks_total",
		Help: "Total fallback/escalation events",
	}, []string{"reason"})

	bargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_agent_barge_ins_total",
		Help: "Total caller barge-in interruptions of agent speech",
	})

	slotFillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_agent_slot_fill_latency_seconds",
		Help:    "Wall-clock time from session start to all required slots filled",
		Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
	})

	bookingsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_agent_bookings_total",
		Help: "Total completed booking outcomes",
	}, []string{"outcome"}) // outcome: "confirmed"|"escalated"|"abandoned"
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID        string
	startTime     time.Time
	asrStartTime  time.Time
	ttsStartTime  time.Time
	llmStartTime  time.Time
	slotsFilled   bool
	mu            sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	duration := time.Since(m.startTime).Seconds()
	callDuration.Observe(duration)
}

// RecordASRStart records the start of ASR processing
func (m *Metrics) RecordASRStart() {
	m.mu.Lock()
	m.asrStartTime = time.Now()
	m.mu.Unlock()
}

// RecordASREnd records the end of ASR processing
func (m *Metrics) RecordASREnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.asrStartTime.IsZero() {
		latency := time.Since(m.asrStartTime).Seconds()
		asrLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	asrRequests.WithLabelValues(status).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		latency := time.Since(m.ttsStartTime).Seconds()
		ttsLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordLLMStart records the start of an LLM extraction call
func (m *Metrics) RecordLLMStart() {
	m.mu.Lock()
	m.llmStartTime = time.Now()
	m.mu.Unlock()
}

// RecordLLMEnd records the end of an LLM extraction call
func (m *Metrics) RecordLLMEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.llmStartTime.IsZero() {
		latency := time.Since(m.llmStartTime).Seconds()
		llmLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordStateTransition records a booking state machine transition
func (m *Metrics) RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSlotRetry records a retry prompt for a given slot
func (m *Metrics) RecordSlotRetry(slot string) {
	slotRetries.WithLabelValues(slot).Inc()
}

// RecordFallback records a fallback/escalation event
func (m *Metrics) RecordFallback(reason string) {
	fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordBargeIn records a caller barge-in event
func (m *Metrics) RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordSlotsFilled records the latency from call start to all required
// slots being filled. Idempotent per call.
func (m *Metrics) RecordSlotsFilled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotsFilled {
		return
	}
	m.slotsFilled = true
	slotFillLatency.Observe(time.Since(m.startTime).Seconds())
}

// RecordBookingOutcome records the terminal outcome of a booking session.
func (m *Metrics) RecordBookingOutcome(outcome string) {
	bookingsCompleted.WithLabelValues(outcome).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
