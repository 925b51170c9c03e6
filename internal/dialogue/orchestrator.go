package dialogue

import (
	"context"
	"time"

	"github.com/brightloop-voice/booking-agent/internal/asr"
	"github.com/brightloop-voice/booking-agent/internal/audio"
	"github.com/brightloop-voice/booking-agent/internal/eventsink"
	"github.com/brightloop-voice/booking-agent/internal/observability"
	"github.com/brightloop-voice/booking-agent/internal/telephony"
	"github.com/brightloop-voice/booking-agent/internal/tts"
	"github.com/brightloop-voice/booking-agent/internal/turnbuffer"
)

// telephonyFrameBytes is one 20ms frame of 8kHz PCMU (160 samples, 1 byte
// each), the chunk size telephony.OutboundFrame is expected to carry.
const telephonyFrameBytes = 160

// Socket is the subset of *telephony.MediaSocket the orchestrator needs,
// declared locally so it can be substituted with a fake in tests without
// standing up a real WebSocket.
type Socket interface {
	Events() <-chan telephony.Event
	Send(frame telephony.OutboundFrame)
	Close() error
}

// Runtime bundles the per-call collaborators the orchestrator drives. All
// of them are constructed fresh per call by the caller (cmd/server) and
// handed off; CallRunner is the sole owner of Session state from this
// point on (spec §5's single session-task model).
type Runtime struct {
	Socket       Socket
	ASR          asr.Client
	TTS          tts.Client
	LLM          LLMClient
	StateMachine *StateMachine
	Sink         eventsink.Sink
}

// CallRunner runs the single session-task goroutine for one call: it fans
// in MediaSocket events, ASR events, TurnBuffer flushes, and session timers,
// and drives LLM → state machine → TTS for each user turn (spec §4.4.7,
// §5). No other goroutine may mutate its Session.
type CallRunner struct {
	sess *Session
	rt   Runtime

	turnBuffer  *turnbuffer.Buffer
	asrStarted  bool
	closeTimer  *time.Timer
	metrics     *observability.Metrics
	outboundBuf *audio.RingBuffer
}

// NewCallRunner builds a CallRunner for sess, wiring a TurnBuffer gated on
// the session's own processingTurn flag (spec §4.3's "¬processingTurn" guard).
func NewCallRunner(sess *Session, rt Runtime) *CallRunner {
	r := &CallRunner{
		sess:        sess,
		rt:          rt,
		metrics:     observability.NewCallMetrics(sess.SessionID),
		outboundBuf: audio.NewRingBuffer(telephonyFrameBytes * 16),
	}
	r.turnBuffer = turnbuffer.New(turnbuffer.WithProcessingGate(func() bool {
		return sess.Flags.ProcessingTurn
	}))
	return r
}

// Bootstrap feeds a MediaSocket event directly into the session task, for
// the StreamStart event the caller had to read early (before constructing
// Session) in order to resolve the organization context by calledNumber.
// Must be called before Run.
func (r *CallRunner) Bootstrap(evt telephony.Event) {
	r.handleSocketEvent(evt)
}

// Run drives the session task until the socket closes, the conversation
// timer fires, or ctx is cancelled. It blocks; callers should run it in its
// own goroutine.
func (r *CallRunner) Run(ctx context.Context) {
	defer r.shutdown()
	r.metrics.RecordCallStart()

	asrRaw := r.rt.ASR.Events()
	asrEvents := make(chan asr.Event, 32)
	go r.pumpASREvents(asrRaw, asrEvents)

	socketEvents := r.rt.Socket.Events()
	turns := r.turnBuffer.Turns()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-socketEvents:
			if !ok {
				return
			}
			if r.handleSocketEvent(evt) {
				return
			}

		case evt, ok := <-asrEvents:
			if !ok {
				asrEvents = nil
				continue
			}
			r.handleASREvent(evt)

		case text, ok := <-turns:
			if !ok {
				turns = nil
				continue
			}
			r.processTurn(ctx, text)

		case <-r.sess.Timers.Silence.C:
			r.handleSilenceTimeout()

		case <-r.sess.Timers.Conversation.C:
			r.handleConversationTimeout()
			return

		case <-r.sess.Timers.FallbackGreeting.C:
			r.handleFallbackGreetingTimeout()

		case <-r.closeChan():
			return
		}
	}
}

// pumpASREvents runs on its own goroutine so an in-flight TTS speak (which
// blocks the session task, per spec §5's suspension points) can still be
// cut off within the <150ms barge-in target: it calls TTS.Interrupt
// directly rather than waiting for the session task to reach its next
// select iteration (spec §5: "synchronously via the TTS cancel token").
// It never touches Session fields — that bookkeeping stays on the session
// task via the forwarded event.
func (r *CallRunner) pumpASREvents(in <-chan asr.Event, out chan<- asr.Event) {
	for evt := range in {
		if evt.Kind == asr.BargeIn && !r.rt.TTS.IsActive() {
			// The local VAD backstop fires on any caller speech; with no
			// agent audio playing it is not a barge-in.
			continue
		}
		if evt.Kind == asr.BargeIn || (evt.Kind == asr.SpeechStarted && r.rt.TTS.IsActive()) {
			if err := r.rt.TTS.Interrupt(); err != nil {
				observability.GetLogger().Warn().Err(err).Msg("dialogue: immediate tts interrupt failed")
			}
		}
		select {
		case out <- evt:
		default:
			// Session task is backed up; drop rather than block the pump,
			// matching asr.Client's own emit() drop policy.
		}
	}
	close(out)
}

// handleSocketEvent returns true if the session should end.
func (r *CallRunner) handleSocketEvent(evt telephony.Event) bool {
	switch evt.Kind {
	case telephony.EventStreamStart:
		r.sess.StreamID = evt.StreamID
		r.sess.CalledNumber = evt.CalledNumber
		r.sess.CallerNumber = evt.CallerNumber
		r.sess.Flags.StreamStarted = true

		if !r.asrStarted {
			r.asrStarted = true
			if err := r.rt.ASR.Start(); err != nil {
				observability.GetLogger().Error().Err(err).Msg("dialogue: asr start failed")
			}
		}
		r.sess.Timers.ArmFallbackGreeting()
		r.maybeSendGreeting()

	case telephony.EventMediaIn:
		if err := r.rt.ASR.Send(evt.Payload); err != nil {
			observability.GetLogger().Warn().Err(err).Msg("dialogue: asr send failed")
		}

	case telephony.EventStreamStop:
		return true
	}
	return false
}

func (r *CallRunner) handleASREvent(evt asr.Event) {
	switch evt.Kind {
	case asr.Ready:
		r.sess.Flags.ASRReady = true
		r.maybeSendGreeting()

	case asr.InterimTranscript:
		r.sess.Timers.ResetSilence()

	case asr.FinalTranscript:
		r.sess.Timers.ResetSilence()
		r.sess.Timers.ResetConversation()
		r.turnBuffer.Push(evt.Text, evt.Confidence)

	case asr.SpeechStarted:
		r.sess.Timers.ResetConversation()
		if r.rt.TTS.IsActive() {
			r.handleBargeIn()
		}

	case asr.BargeIn:
		r.handleBargeIn()

	case asr.SpeechEnded:
		// Turn boundary is driven by FinalTranscript + TurnBuffer quiescence,
		// not by this event.

	case asr.Silence:
		// Provider-level endpointing signal, distinct from the session's own
		// silence timer (spec §4.6); no session action needed here.

	case asr.Error:
		observability.GetLogger().Error().Err(evt.Err).Msg("dialogue: asr error")
	}
}

// handleBargeIn applies the session-owned half of barge-in handling: the
// 300ms debounce against repeated ASR firing, and discarding the TurnBuffer
// (spec §4.5's "debounced by 300ms against the prior barge-in"). The audio
// cutoff itself already happened in pumpASREvents.
func (r *CallRunner) handleBargeIn() {
	now := time.Now()
	if now.Sub(r.sess.LastBargeInAt) < r.sess.Timers.Durations().BargeInDebounce {
		return
	}
	r.sess.LastBargeInAt = now
	r.turnBuffer.BargeIn()
	r.metrics.RecordBargeIn()
}

func (r *CallRunner) maybeSendGreeting() {
	if !r.sess.ReadyForGreeting() {
		return
	}
	r.sess.Flags.GreetingSent = true
	r.sess.State = StateCollectService
	r.sess.AppendHistory("agent", r.sess.Org.Greeting)
	r.speak(r.sess.Org.Greeting)
	r.sess.Timers.ResetConversation()
}

func (r *CallRunner) handleFallbackGreetingTimeout() {
	if r.sess.Flags.GreetingSent {
		return
	}
	r.sess.Flags.GreetingSent = true
	r.sess.State = StateCollectService
	greeting := r.sess.Org.Greeting
	r.sess.AppendHistory("agent", greeting)
	r.speak(greeting)
	r.sess.Timers.ResetConversation()
}

func (r *CallRunner) handleSilenceTimeout() {
	r.sess.SilenceCount[r.sess.State]++
	if r.sess.SilenceCount[r.sess.State] >= 2 {
		r.metrics.RecordFallback("silence_escalation")
		r.transitionTo(StateFallback, fallbackScript(r.sess))
		return
	}
	r.speak(silenceNudge(r.sess))
	r.sess.Timers.ResetSilence()
}

func (r *CallRunner) handleConversationTimeout() {
	r.speak(farewellScript(r.sess))
}

// transitionTo moves the session directly to state (used by silence
// escalation, which bypasses the LLM/state-machine turn path) and speaks
// its owned script.
func (r *CallRunner) transitionTo(state StateKey, script string) {
	before := r.sess.State
	r.sess.State = state
	r.metrics.RecordStateTransition(string(before), string(state))
	r.sess.AppendHistory("agent", script)
	r.speak(script)
	r.rt.Sink.UpdateCall(context.Background(), eventsink.CallUpdate{
		SessionID: r.sess.SessionID,
		Status:    statusForState(state),
		TurnIndex: r.sess.TurnIndex,
	})
	if state.IsTerminal() {
		r.recordBookingOutcome(state)
		r.scheduleClose(r.sess.Timers.Durations().SessionCloseGrace)
	}
}

// recordBookingOutcome maps a terminal state to the outcome label spec's
// dashboards group bookings by.
func (r *CallRunner) recordBookingOutcome(state StateKey) {
	switch state {
	case StateSuccess:
		r.metrics.RecordBookingOutcome("confirmed")
	case StateCallbackScheduled:
		r.metrics.RecordBookingOutcome("escalated")
	case StateFallback:
		r.metrics.RecordBookingOutcome("abandoned")
	}
}

// processTurn implements the TurnOrchestrator algorithm of spec §4.4.7.
func (r *CallRunner) processTurn(ctx context.Context, text string) {
	if r.sess.Flags.ProcessingTurn {
		return
	}
	r.sess.Flags.ProcessingTurn = true
	defer func() { r.sess.Flags.ProcessingTurn = false }()

	r.sess.TurnIndex++
	r.sess.AppendHistory("user", text)
	stateBefore := r.sess.State
	t0 := time.Now()

	llmStart := time.Now()
	r.metrics.RecordLLMStart()
	llmResp, err := r.rt.LLM.Process(ctx, LLMRequest{
		Transcript:    text,
		State:         r.sess.State,
		Slots:         r.sess.Slots,
		RecentHistory: r.sess.History,
		Services:      r.sess.Org.Services,
		BusinessHours: r.sess.Org.BusinessHours,
		Timezone:      r.sess.Org.Timezone,
	})
	r.metrics.RecordLLMEnd(err == nil)
	llmMs := time.Since(llmStart).Milliseconds()

	if err != nil {
		r.metrics.RecordError("llm_process_failed", "dialogue")
		fallback := fallbackScript(r.sess)
		r.sess.AppendHistory("agent", fallback)
		r.speak(fallback)
		r.rt.Sink.Append(ctx, eventsink.TurnRecord{
			SessionID:   r.sess.SessionID,
			TurnIndex:   r.sess.TurnIndex,
			UserText:    text,
			AgentText:   fallback,
			StateBefore: string(stateBefore),
			StateAfter:  string(r.sess.State),
			LLMMs:       llmMs,
			TotalMs:     time.Since(t0).Milliseconds(),
			Error:       err.Error(),
			RecordedAt:  time.Now(),
		})
		return
	}

	retriesBefore := r.sess.RetryByState[stateBefore]
	outcome := r.rt.StateMachine.Advance(r.sess, ProcessIntent{
		Intent:       llmResp.Intent,
		Confidence:   llmResp.Confidence,
		Entities:     llmResp.Entities,
		OriginalText: text,
		Response:     llmResp.Response,
	})
	if r.sess.RetryByState[stateBefore] > retriesBefore {
		r.metrics.RecordSlotRetry(string(stateBefore))
	}

	agentText := sanitizeResponse(chooseResponse(outcome, llmResp.Response))
	r.sess.State = outcome.State
	if outcome.State != stateBefore {
		r.metrics.RecordStateTransition(string(stateBefore), string(outcome.State))
	}
	if outcome.State == StateConfirm {
		r.metrics.RecordSlotsFilled()
	}
	if outcome.State == StateFallback {
		r.metrics.RecordFallback("retries_exceeded")
	}
	r.sess.AppendHistory("agent", agentText)

	ttsStart := time.Now()
	r.metrics.RecordTTSStart()
	r.speak(agentText)
	r.metrics.RecordTTSEnd(true)
	ttsMs := time.Since(ttsStart).Milliseconds()

	r.rt.Sink.Append(ctx, eventsink.TurnRecord{
		SessionID:   r.sess.SessionID,
		TurnIndex:   r.sess.TurnIndex,
		UserText:    text,
		AgentText:   agentText,
		Intent:      string(llmResp.Intent),
		Confidence:  llmResp.Confidence,
		StateBefore: string(stateBefore),
		StateAfter:  string(r.sess.State),
		LLMMs:       llmMs,
		TTSMs:       ttsMs,
		TotalMs:     time.Since(t0).Milliseconds(),
		RecordedAt:  time.Now(),
	})

	r.sess.Timers.ResetSilence()
	r.sess.Timers.ResetConversation()

	if outcome.State.IsTerminal() {
		r.recordBookingOutcome(outcome.State)
		r.rt.Sink.UpdateCall(ctx, eventsink.CallUpdate{
			SessionID: r.sess.SessionID,
			Status:    statusForState(outcome.State),
			TurnIndex: r.sess.TurnIndex,
		})
		r.scheduleClose(r.sess.Timers.Durations().SessionCloseGrace)
	}
}

// chooseResponse prefers a state-owned script over the LLM's response
// (spec §4.4.5), since reusing the LLM's text for a transition it doesn't
// own risks re-speaking a stale prior-turn response.
func chooseResponse(outcome Outcome, llmResponse string) string {
	if outcome.ScriptOwned {
		return outcome.Script
	}
	return llmResponse
}

// speak synthesizes text and streams the resulting audio to the socket. It
// blocks the session task until synthesis completes or is interrupted —
// one of the suspension points spec §5 calls out explicitly.
func (r *CallRunner) speak(text string) tts.Metrics {
	if text == "" {
		return tts.Metrics{}
	}
	audioCh, metricsCh, err := r.rt.TTS.Speak(text)
	if err != nil {
		observability.GetLogger().Warn().Err(err).Msg("dialogue: tts speak failed")
		return tts.Metrics{}
	}
	for chunk := range audioCh {
		r.sendFramed(chunk.Data)
	}
	r.flushOutbound()
	select {
	case m := <-metricsCh:
		return m
	default:
		return tts.Metrics{}
	}
}

// sendFramed re-chunks TTS output (which arrives in provider-sized chunks,
// not necessarily telephony-frame-aligned) into fixed 20ms frames via a ring
// buffer, writing in a loop since a single provider chunk may exceed the
// buffer's capacity.
func (r *CallRunner) sendFramed(data []byte) {
	for len(data) > 0 {
		n := r.outboundBuf.Write(data)
		data = data[n:]

		frame := make([]byte, telephonyFrameBytes)
		for r.outboundBuf.Available() >= telephonyFrameBytes {
			r.outboundBuf.Read(frame)
			r.rt.Socket.Send(telephony.OutboundFrame{StreamID: r.sess.StreamID, Payload: append([]byte(nil), frame...)})
		}

		if n == 0 {
			// Buffer is full and draining made no room; back off rather than spin.
			break
		}
	}
}

// flushOutbound sends any partial frame left over once an utterance's audio
// has fully drained through the ring buffer.
func (r *CallRunner) flushOutbound() {
	if r.outboundBuf.IsEmpty() {
		return
	}
	remainder := make([]byte, r.outboundBuf.Available())
	r.outboundBuf.Read(remainder)
	r.rt.Socket.Send(telephony.OutboundFrame{StreamID: r.sess.StreamID, Payload: remainder})
}

func (r *CallRunner) scheduleClose(d time.Duration) {
	if r.closeTimer != nil {
		r.closeTimer.Stop()
	}
	r.closeTimer = time.NewTimer(d)
}

func (r *CallRunner) closeChan() <-chan time.Time {
	if r.closeTimer == nil {
		return nil
	}
	return r.closeTimer.C
}

func statusForState(state StateKey) string {
	switch state {
	case StateSuccess:
		return "success"
	case StateCallbackScheduled:
		return "callback_scheduled"
	case StateFallback:
		return "fallback"
	default:
		return "in_progress"
	}
}

// shutdown releases every per-call resource on every exit path (spec §3
// invariant 5: all per-session timers cancelled on every exit path).
func (r *CallRunner) shutdown() {
	r.metrics.RecordCallEnd()
	r.sess.Timers.StopAll()
	if r.closeTimer != nil {
		r.closeTimer.Stop()
	}
	r.turnBuffer.Close()

	if r.asrStarted {
		_ = r.rt.ASR.Stop()
	}
	_ = r.rt.ASR.Close()
	_ = r.rt.TTS.Close()
	_ = r.rt.Socket.Close()

	ended := time.Now()
	r.rt.Sink.UpdateCall(context.Background(), eventsink.CallUpdate{
		SessionID: r.sess.SessionID,
		Status:    statusForState(r.sess.State),
		EndedAt:   &ended,
		TurnIndex: r.sess.TurnIndex,
	})
}
