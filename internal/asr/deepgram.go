package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/brightloop-voice/booking-agent/internal/audio"
	"github.com/brightloop-voice/booking-agent/internal/config"
	"github.com/brightloop-voice/booking-agent/internal/observability"
	"github.com/brightloop-voice/booking-agent/internal/resilience"
)

// preReadyBufferLimit bounds how much audio is queued while the provider
// connection is still coming up, so a slow connect can't grow memory
// unbounded for a call that hangs up before Ready.
const preReadyBufferLimit = 200 // ~4s at 20ms frames

// messageCallbackHandler adapts the SDK's callback interface to our handler
// funcs, mirroring the SDK's own embed-and-override pattern.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client against Deepgram's streaming API.
type DeepgramClient struct {
	config *config.Config

	mu            sync.Mutex
	conn          *listenClient.WSCallback
	isActive      bool
	isReady       bool
	preReadyAudio [][]byte

	// streamStarted is set once audio has actually flowed to the provider
	// on this call. Spec §4.2's reconnect policy only auto-reconnects while
	// this is still false (the connection never got off the ground); a
	// provider error after streaming has begun only surfaces Error.
	streamStarted bool

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	circuitBreaker *resilience.CircuitBreaker

	// bargeIn is a local energy-based backstop that flags caller speech a
	// frame or two before Deepgram's own SpeechStarted arrives over the
	// network (internal/audio's VAD, built for exactly this).
	bargeIn *audio.BargeInDetector
}

// NewDeepgramClient creates a Deepgram streaming ASR client.
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramClient{
		config: cfg,
		events: make(chan Event, 100),
		ctx:    ctx,
		cancel: cancel,
		circuitBreaker: resilience.NewCircuitBreaker(
			"asr-deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		bargeIn: audio.NewBargeInDetector(nil),
	}
}

// Start opens the Deepgram streaming connection.
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("asr: deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.ASRModel,
		Language:       d.config.ASRLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     8000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler:           d.handleError,
	}

	conn, err := listenClient.NewWSUsingCallback(d.ctx, d.config.ASRAPIKey, nil, tOptions, callback)
	if err != nil {
		observability.IncrementCircuitBreakerFailures("asr-deepgram")
		return fmt.Errorf("asr: failed to create deepgram client: %w", err)
	}

	d.conn = conn
	d.isActive = true
	d.isReady = true
	observability.UpdateCircuitBreakerState("asr-deepgram", int(d.circuitBreaker.GetState()))

	d.emit(Event{Kind: Ready})
	d.flushPreReadyAudioLocked()

	observability.GetLogger().Info().
		Str("model", d.config.ASRModel).
		Str("language", d.config.ASRLanguage).
		Msg("asr: deepgram streaming client started")
	return nil
}

func (d *DeepgramClient) flushPreReadyAudioLocked() {
	for _, buf := range d.preReadyAudio {
		if _, err := d.conn.Write(buf); err != nil {
			observability.GetLogger().Warn().Err(err).Msg("asr: failed to flush buffered audio")
			break
		}
		d.streamStarted = true
	}
	d.preReadyAudio = nil
}

func (d *DeepgramClient) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	observability.GetLogger().Error().Interface("deepgram_error", errorResponse).Msg("asr: deepgram error")

	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("asr-deepgram", int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures("asr-deepgram")

	select {
	case <-d.ctx.Done():
		return nil
	default:
	}

	d.mu.Lock()
	d.isActive = false
	d.isReady = false
	d.mu.Unlock()

	d.emit(Event{Kind: Error, Err: fmt.Errorf("asr: provider error: %+v", errorResponse)})

	if d.shouldAttemptReconnect() {
		go d.attemptReconnect()
	}
	return nil
}

// shouldAttemptReconnect implements spec §4.2's reconnect gate: auto-reconnect
// only while the call has never successfully streamed audio; once streaming
// has started, a later provider error only surfaces Error to the Dialogue core.
func (d *DeepgramClient) shouldAttemptReconnect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.streamStarted
}

// handleMessage translates a Deepgram MessageResponse into our Event set.
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "SpeechStarted":
		d.emit(Event{Kind: SpeechStarted})

	case "UtteranceEnd":
		d.emit(Event{Kind: SpeechEnded})

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			// Deepgram emits empty-transcript Results for trailing silence;
			// this is the Silence signal, not a transcript to forward.
			d.emit(Event{Kind: Silence})
			return
		}

		confidence := alt.Confidence
		kind := InterimTranscript
		if msg.IsFinal {
			kind = FinalTranscript
		}

		d.emit(Event{Kind: kind, Text: alt.Transcript, Confidence: confidence})

	default:
		// Metadata and other provider-internal message types are not
		// surfaced to callers.
	}
}

// Send pushes one chunk of PCMU audio, buffering while not yet Ready.
func (d *DeepgramClient) Send(audioData []byte) error {
	d.feedBargeInDetector(audioData)

	d.mu.Lock()
	if !d.isReady {
		if len(d.preReadyAudio) < preReadyBufferLimit {
			d.preReadyAudio = append(d.preReadyAudio, audioData)
		}
		d.mu.Unlock()
		return nil
	}
	conn := d.conn
	d.mu.Unlock()

	err := d.circuitBreaker.Call(func() error {
		if conn == nil {
			return fmt.Errorf("asr: deepgram client is not active")
		}
		_, err := conn.Write(audioData)
		return err
	})

	observability.UpdateCircuitBreakerState("asr-deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("asr-deepgram")

		if d.shouldAttemptReconnect() {
			go d.attemptReconnect()
		} else {
			d.emit(Event{Kind: Error, Err: fmt.Errorf("asr: send failed mid-call: %w", err)})
		}
		return fmt.Errorf("asr: failed to send audio: %w", err)
	}

	d.mu.Lock()
	d.streamStarted = true
	d.mu.Unlock()
	return nil
}

// feedBargeInDetector runs the local VAD backstop against one inbound PCMU
// frame, emitting BargeIn ahead of Deepgram's own network round trip. The
// caller (dialogue orchestrator) only acts on it while TTS is playing.
func (d *DeepgramClient) feedBargeInDetector(pcmu []byte) {
	pcm, err := audio.ConvertPCMUToPCM(pcmu)
	if err != nil {
		return
	}
	if d.bargeIn.Feed(audio.BytesToSamples(pcm)) {
		d.emit(Event{Kind: BargeIn})
	}
}

func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.Lock()
	alreadyActive := d.isActive
	d.mu.Unlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoffMs) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		observability.GetLogger().Error().Err(err).Msg("asr: failed to reconnect to deepgram")
	} else {
		observability.GetLogger().Info().Msg("asr: reconnected to deepgram")
	}
}

func (d *DeepgramClient) emit(e Event) {
	select {
	case d.events <- e:
	default:
		observability.GetLogger().Warn().Msg("asr: event channel full, dropping event")
	}
}

// Events returns the channel of transcription and lifecycle events.
func (d *DeepgramClient) Events() <-chan Event {
	return d.events
}

// Stop ends the streaming session.
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}
	d.conn.Finish()
	d.isActive = false
	d.isReady = false
	observability.GetLogger().Info().Msg("asr: deepgram streaming client stopped")
	return nil
}

// Close releases all resources; the client cannot be restarted.
func (d *DeepgramClient) Close() error {
	d.cancel()
	if err := d.Stop(); err != nil {
		return err
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.events)
	}()
	return nil
}
