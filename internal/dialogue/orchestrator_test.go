package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brightloop-voice/booking-agent/internal/asr"
	"github.com/brightloop-voice/booking-agent/internal/eventsink"
	"github.com/brightloop-voice/booking-agent/internal/telephony"
	"github.com/brightloop-voice/booking-agent/internal/tts"
)

// fakeSocket satisfies the orchestrator's Socket interface without a real
// WebSocket, recording outbound frames for assertions.
type fakeSocket struct {
	mu     sync.Mutex
	events chan telephony.Event
	sent   []telephony.OutboundFrame
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{events: make(chan telephony.Event, 8)}
}

func (f *fakeSocket) Events() <-chan telephony.Event { return f.events }

func (f *fakeSocket) Send(frame telephony.OutboundFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeTTS is a minimal tts.Client that completes Speak synchronously.
type fakeTTS struct {
	mu        sync.Mutex
	active    bool
	interrupt int
}

func (f *fakeTTS) Speak(text string) (<-chan *tts.AudioChunk, <-chan tts.Metrics, error) {
	audioCh := make(chan *tts.AudioChunk, 1)
	metricsCh := make(chan tts.Metrics, 1)
	audioCh <- &tts.AudioChunk{Data: []byte(text), SampleRate: 8000, Channels: 1}
	close(audioCh)
	metricsCh <- tts.Metrics{Bytes: int64(len(text))}
	return audioCh, metricsCh, nil
}

func (f *fakeTTS) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupt++
	f.active = false
	return nil
}

func (f *fakeTTS) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTTS) Close() error { return nil }

// fakeASR is a minimal asr.Client whose Events channel is test-controlled.
type fakeASR struct {
	events chan asr.Event
}

func newFakeASR() *fakeASR { return &fakeASR{events: make(chan asr.Event, 8)} }

func (f *fakeASR) Start() error               { return nil }
func (f *fakeASR) Send(audio []byte) error    { return nil }
func (f *fakeASR) Events() <-chan asr.Event   { return f.events }
func (f *fakeASR) Stop() error                { return nil }
func (f *fakeASR) Close() error               { close(f.events); return nil }

// fakeLLM counts calls and returns a canned response.
type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	response LLMResponse
	err      error
}

func (f *fakeLLM) Process(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRuntime() (Runtime, *fakeSocket, *fakeTTS, *fakeASR, *fakeLLM) {
	socket := newFakeSocket()
	ttsClient := &fakeTTS{}
	asrClient := newFakeASR()
	llmClient := &fakeLLM{response: LLMResponse{Intent: IntentServiceProvided, Confidence: 0.9, Entities: Entities{Service: strPtr("Haircut")}, Response: "Got it."}}
	rt := Runtime{
		Socket:       socket,
		ASR:          asrClient,
		TTS:          ttsClient,
		LLM:          llmClient,
		StateMachine: NewStateMachine(nil),
		Sink:         eventsink.NoopSink{},
	}
	return rt, socket, ttsClient, asrClient, llmClient
}

func TestChooseResponse_PrefersScriptOwned(t *testing.T) {
	got := chooseResponse(Outcome{ScriptOwned: true, Script: "state script"}, "llm response")
	if got != "state script" {
		t.Errorf("got %q, want state-owned script", got)
	}
}

func TestChooseResponse_FallsBackToLLMResponse(t *testing.T) {
	got := chooseResponse(Outcome{ScriptOwned: false}, "llm response")
	if got != "llm response" {
		t.Errorf("got %q, want llm response", got)
	}
}

func TestStatusForState(t *testing.T) {
	cases := map[StateKey]string{
		StateSuccess:           "success",
		StateCallbackScheduled: "callback_scheduled",
		StateFallback:          "fallback",
		StateCollectService:    "in_progress",
	}
	for state, want := range cases {
		if got := statusForState(state); got != want {
			t.Errorf("statusForState(%v) = %q, want %q", state, got, want)
		}
	}
}

func TestCallRunner_ProcessTurn_SkipsWhenAlreadyInFlight(t *testing.T) {
	sess := testSession()
	rt, _, _, _, llm := testRuntime()
	runner := NewCallRunner(sess, rt)
	sess.Flags.ProcessingTurn = true

	runner.processTurn(context.Background(), "book a haircut")

	if llm.callCount() != 0 {
		t.Errorf("expected LLM not to be called while a turn is in flight, got %d calls", llm.callCount())
	}
}

func TestCallRunner_ProcessTurn_AdvancesStateAndSpeaks(t *testing.T) {
	sess := testSession()
	sess.State = StateCollectService
	rt, socket, _, _, llm := testRuntime()
	runner := NewCallRunner(sess, rt)

	runner.processTurn(context.Background(), "I'd like a haircut")

	if llm.callCount() != 1 {
		t.Errorf("expected exactly one LLM call, got %d", llm.callCount())
	}
	if sess.State != StateCollectTimeWindow {
		t.Errorf("got state %v, want CollectTimeWindow", sess.State)
	}
	if socket.sentCount() == 0 {
		t.Error("expected the chosen response to be spoken over the socket")
	}
	if sess.Flags.ProcessingTurn {
		t.Error("expected processingTurn to be cleared after the turn completes")
	}
}

func TestCallRunner_ProcessTurn_LLMErrorSpeaksFallback(t *testing.T) {
	sess := testSession()
	rt, socket, _, _, llm := testRuntime()
	llm.err = errors.New("upstream timeout")
	runner := NewCallRunner(sess, rt)

	runner.processTurn(context.Background(), "hello")

	if socket.sentCount() == 0 {
		t.Error("expected a fallback script to be spoken on LLM error")
	}
	if sess.Flags.ProcessingTurn {
		t.Error("expected processingTurn to be cleared even on error")
	}
}

func TestCallRunner_HandleBargeIn_Debounced(t *testing.T) {
	sess := testSession()
	sess.Timers = NewTimerSet(TimerDurations{BargeInDebounce: 300 * time.Millisecond})
	rt, _, _, _, _ := testRuntime()
	runner := NewCallRunner(sess, rt)

	runner.handleBargeIn()
	first := sess.LastBargeInAt

	runner.handleBargeIn()
	if sess.LastBargeInAt != first {
		t.Error("expected second immediate barge-in to be suppressed by the debounce window")
	}
}

func TestCallRunner_HandleBargeIn_AllowsAfterDebounceWindow(t *testing.T) {
	sess := testSession()
	sess.Timers = NewTimerSet(TimerDurations{BargeInDebounce: 1 * time.Millisecond})
	rt, _, _, _, _ := testRuntime()
	runner := NewCallRunner(sess, rt)

	runner.handleBargeIn()
	first := sess.LastBargeInAt
	time.Sleep(5 * time.Millisecond)
	runner.handleBargeIn()

	if sess.LastBargeInAt == first {
		t.Error("expected barge-in after the debounce window to register")
	}
}

func TestCallRunner_MaybeSendGreeting_GatedOnReadiness(t *testing.T) {
	sess := testSession()
	sess.Org.Greeting = "Thanks for calling, how can I help?"
	rt, socket, _, _, _ := testRuntime()
	runner := NewCallRunner(sess, rt)

	runner.maybeSendGreeting()
	if sess.Flags.GreetingSent {
		t.Error("expected greeting not sent before streamId/ASR ready")
	}

	sess.Flags.ASRReady = true
	sess.Flags.StreamStarted = true
	sess.StreamID = "MZ123"
	runner.maybeSendGreeting()

	if !sess.Flags.GreetingSent {
		t.Error("expected greeting sent once all readiness gates are true")
	}
	if socket.sentCount() == 0 {
		t.Error("expected greeting audio written to the socket")
	}
	if sess.State != StateCollectService {
		t.Errorf("got state %v after greeting, want CollectService", sess.State)
	}

	sentBefore := socket.sentCount()
	runner.maybeSendGreeting()
	if socket.sentCount() != sentBefore {
		t.Error("expected greeting to be sent exactly once per session")
	}
}
