package dialogue

import (
	"time"

	"github.com/brightloop-voice/booking-agent/internal/orgcontext"
)

// Timer durations (spec §4.6), overridable via config at session construction.
const (
	DefaultTurnBufferQuiescence = 1500 * time.Millisecond
	DefaultSilenceTimeout       = 12 * time.Second
	DefaultConversationTimeout  = 30 * time.Second
	DefaultFallbackGreetingWait = 3 * time.Second
	DefaultBargeInDebounce      = 300 * time.Millisecond
	DefaultSessionCloseGrace    = 5 * time.Second
)

// TimerDurations lets cmd/server override the defaults from config.
type TimerDurations struct {
	Silence          time.Duration
	Conversation     time.Duration
	FallbackGreeting time.Duration
	BargeInDebounce  time.Duration
	SessionCloseGrace time.Duration
}

// TimerSet holds one *time.Timer per named session timer (spec §4.6). All
// timers are created, reset, and stopped only by the owning session
// goroutine — no cross-goroutine timer mutation.
type TimerSet struct {
	Silence          *time.Timer
	Conversation     *time.Timer
	FallbackGreeting *time.Timer

	durations TimerDurations
}

// NewTimerSet creates a TimerSet with all timers stopped.
func NewTimerSet(d TimerDurations) *TimerSet {
	ts := &TimerSet{durations: d}
	ts.Silence = newStoppedTimer()
	ts.Conversation = newStoppedTimer()
	ts.FallbackGreeting = newStoppedTimer()
	return ts
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Durations returns the configured timer durations, for components (e.g.
// the orchestrator's barge-in debounce, close grace) that need the raw
// value rather than a reset call.
func (ts *TimerSet) Durations() TimerDurations {
	return ts.durations
}

// ResetSilence rearms the silence timer, called on any interim/final transcript.
func (ts *TimerSet) ResetSilence() {
	resetTimer(ts.Silence, ts.durations.Silence)
}

// ResetConversation rearms the conversation timer, called on any user speech activity.
func (ts *TimerSet) ResetConversation() {
	resetTimer(ts.Conversation, ts.durations.Conversation)
}

// ArmFallbackGreeting starts the fallback-greeting timer once, at stream start.
func (ts *TimerSet) ArmFallbackGreeting() {
	resetTimer(ts.FallbackGreeting, ts.durations.FallbackGreeting)
}

// StopAll cancels every timer; called on every session-end exit path
// (spec §3 invariant 5).
func (ts *TimerSet) StopAll() {
	for _, t := range []*time.Timer{ts.Silence, ts.Conversation, ts.FallbackGreeting} {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}
}

// Session is the mutable state for one active call, owned exclusively by
// its session goroutine (spec §3, §5).
type Session struct {
	SessionID    string
	CallSid      string
	CalledNumber string
	CallerNumber string
	StreamID     string

	Org orgcontext.Context

	Slots         Slots
	State         StateKey
	RetryByState  map[StateKey]int
	SilenceCount  map[StateKey]int
	Digressions   int
	TurnIndex     int
	History       []HistoryEntry
	Flags         Flags
	Timers        *TimerSet
	LastBargeInAt time.Time
}

// NewSession creates a fresh session in the initial state.
func NewSession(sessionID, callSid string, org orgcontext.Context, timers TimerDurations) *Session {
	return &Session{
		SessionID:    sessionID,
		CallSid:      callSid,
		Org:          org,
		State:        StateIdle,
		RetryByState: make(map[StateKey]int),
		SilenceCount: make(map[StateKey]int),
		Timers:       NewTimerSet(timers),
	}
}

// AppendHistory records one turn line, bounding total length.
func (s *Session) AppendHistory(role, text string) {
	s.History = append(s.History, HistoryEntry{Role: role, Text: text, At: time.Now()})
	if len(s.History) > maxHistoryEntries {
		s.History = s.History[len(s.History)-maxHistoryEntries:]
	}
}

// ReadyForGreeting reports the gate for the one-time greeting emission
// (spec §3 invariant 6).
func (s *Session) ReadyForGreeting() bool {
	return s.Flags.ASRReady && s.Flags.StreamStarted && s.StreamID != "" && !s.Flags.GreetingSent
}
