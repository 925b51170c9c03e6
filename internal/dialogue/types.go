// Package dialogue owns the per-call Session, the booking state machine,
// and the TurnOrchestrator that drives one turn at a time through the LLM,
// the state machine, and TTS (spec §3, §4.4).
package dialogue

import "time"

// StateKey is one state in the booking state machine (spec §4.4.1).
type StateKey string

const (
	StateIdle              StateKey = "Idle"
	StateCollectService    StateKey = "CollectService"
	StateCollectTimeWindow StateKey = "CollectTimeWindow"
	StateCollectContact    StateKey = "CollectContact"
	StateConfirm           StateKey = "Confirm"
	StateBook              StateKey = "Book"
	StateSuccess           StateKey = "Success"
	StateCallbackScheduled StateKey = "CallbackScheduled"
	StateFallback          StateKey = "Fallback"
	StateRespondAndIdle    StateKey = "RespondAndIdle"
)

// IsTerminal reports whether a state ends the conversation.
func (s StateKey) IsTerminal() bool {
	return s == StateSuccess || s == StateCallbackScheduled || s == StateFallback
}

// Intent is the classification the LLM assigns to a user turn (spec §4.4.2).
type Intent string

const (
	IntentBooking         Intent = "booking"
	IntentServiceProvided Intent = "service_provided"
	IntentTimeProvided    Intent = "time_provided"
	IntentContactProvided Intent = "contact_provided"
	IntentConfirmationYes Intent = "confirmation_yes"
	IntentConfirmationNo  Intent = "confirmation_no"
	IntentDigression      Intent = "digression"
	IntentUnclear         Intent = "unclear"
)

// Entities is the set of slot values the LLM extracted from one turn.
// A nil pointer means "not mentioned this turn"; Replace forces an
// overwrite even when the slot was already set (spec §3 invariant 2).
type Entities struct {
	Service    *string `json:"service,omitempty"`
	TimeWindow *string `json:"timeWindow,omitempty"`
	Contact    *string `json:"contact,omitempty"`
	Location   *string `json:"location,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	Replace    bool    `json:"replace,omitempty"`
}

// Slots is the accumulating booking data for a session (spec §3).
type Slots struct {
	Service    string
	TimeWindow string
	Contact    string
	Location   string
	Notes      string
}

// Merge applies newly extracted entities on top of existing slots.
// Writes are append-only: a non-empty existing slot is kept unless the
// entity is marked Replace or the existing slot is empty.
func (s *Slots) Merge(e Entities) {
	mergeField(&s.Service, e.Service, e.Replace)
	mergeField(&s.TimeWindow, e.TimeWindow, e.Replace)
	mergeField(&s.Contact, e.Contact, e.Replace)
	mergeField(&s.Location, e.Location, e.Replace)
	mergeField(&s.Notes, e.Notes, e.Replace)
}

func mergeField(dst *string, src *string, replace bool) {
	if src == nil {
		return
	}
	if *dst == "" || replace {
		*dst = *src
	}
}

// HasAllRequired reports whether service, timeWindow, and contact are set
// (spec §4.4.3 guard hasAllSlots).
func (s Slots) HasAllRequired() bool {
	return s.Service != "" && s.TimeWindow != "" && s.Contact != ""
}

// Clear wipes all slot values, used when the caller declines to confirm and
// the orchestrator sends them back to CollectService (spec §4.4.4).
func (s *Slots) Clear() {
	*s = Slots{}
}

// HistoryEntry is one line of the bounded conversation transcript kept in
// Session for LLM context (spec §3).
type HistoryEntry struct {
	Role string // "user" | "agent"
	Text string
	At   time.Time
}

// maxHistoryEntries bounds Session.History so a long call doesn't grow the
// LLM prompt without limit.
const maxHistoryEntries = 20

// Flags consolidates the per-session boolean state that spec §9 calls out
// as scattered-closure state in the source; mutated only by the session
// goroutine.
type Flags struct {
	ASRReady       bool
	StreamStarted  bool
	GreetingSent   bool
	ProcessingTurn bool
}

// ProcessIntent is the single event type the state machine advances on
// (spec §4.4.2).
type ProcessIntent struct {
	Intent        Intent
	Confidence    float64
	Entities      Entities
	OriginalText  string
	Response      string
}
