package dialogue

import (
	"strings"

	"github.com/brightloop-voice/booking-agent/internal/orgcontext"
)

// maxConsecutiveDigressions bounds how many digressions in a row are
// answered inline before the state machine forces a return to the active
// prompt (spec §4.4.4 step 2).
const maxConsecutiveDigressions = 3

// BookingPersister is the narrow interface to the calendar/CRM collaborator
// that spec §1 treats as external. Persist attempts to create the
// appointment described by slots; a non-nil error is an integration
// failure, not a caller-visible error.
type BookingPersister interface {
	Persist(slots Slots) error
}

// NoopBookingPersister always succeeds; used where no calendar integration
// is wired (spec's narrow-interface boundary around the calendar
// collaborator, which this codebase does not implement).
type NoopBookingPersister struct{}

func (NoopBookingPersister) Persist(Slots) error { return nil }

// StateMachine advances Session.State on ProcessIntent events per the
// guard-driven transition table of spec §4.4.3-§4.4.4. It is deterministic
// and holds no state of its own beyond the BookingPersister collaborator.
type StateMachine struct {
	persister BookingPersister
}

// NewStateMachine creates a StateMachine backed by persister.
func NewStateMachine(persister BookingPersister) *StateMachine {
	if persister == nil {
		persister = NoopBookingPersister{}
	}
	return &StateMachine{persister: persister}
}

// Outcome is the result of one Advance call: the new state, whether the
// state machine owns the spoken response for this transition (taking
// precedence over the LLM's response per spec §4.4.5), and that response
// text when owned.
type Outcome struct {
	State        StateKey
	ScriptOwned  bool
	Script       string
	BookingError error // set only when State == StateCallbackScheduled due to persist failure
}

// Advance runs one ProcessIntent through the transition table, mutating
// sess.Slots, sess.RetryByState, and sess.Digressions in place. The next
// state is returned in Outcome.State; sess.State is left for the caller to
// update.
func (sm *StateMachine) Advance(sess *Session, evt ProcessIntent) Outcome {
	sess.Slots.Merge(evt.Entities)

	if evt.Intent == IntentDigression {
		return sm.handleDigression(sess, evt)
	}
	sess.Digressions = 0

	switch sess.State {
	case StateIdle, StateCollectService:
		return sm.advanceCollectService(sess, evt)
	case StateCollectTimeWindow:
		return sm.advanceCollectTimeWindow(sess, evt)
	case StateCollectContact:
		return sm.advanceCollectContact(sess, evt)
	case StateConfirm:
		return sm.advanceConfirm(sess, evt)
	case StateBook:
		return sm.advanceBook(sess)
	default:
		return Outcome{State: sess.State}
	}
}

// handleDigression implements spec §4.4.4 step 2: on a digression, answer
// inline and re-emit the current state's prompt, incrementing no retry
// counter. Bounded to 3 consecutive digressions; the 4th forces a return to
// the active prompt alone, dropping the inline answer.
func (sm *StateMachine) handleDigression(sess *Session, evt ProcessIntent) Outcome {
	sess.Digressions++
	prompt := currentStatePrompt(sess)

	if sess.Digressions > maxConsecutiveDigressions {
		sess.Digressions = 0
		return Outcome{State: sess.State, ScriptOwned: true, Script: prompt}
	}

	script := prompt
	if inline := strings.TrimSpace(evt.Response); inline != "" {
		script = inline + " " + prompt
	}
	return Outcome{State: sess.State, ScriptOwned: true, Script: script}
}

func (sm *StateMachine) advanceCollectService(sess *Session, evt ProcessIntent) Outcome {
	if serviceValid(sess.Slots.Service, sess.Org.Services) {
		sess.RetryByState[StateCollectService] = 0
		return Outcome{State: StateCollectTimeWindow}
	}

	sess.Slots.Service = ""
	sess.RetryByState[StateCollectService]++

	if sm.retriesExceeded(sess, StateCollectService) {
		return Outcome{State: StateFallback, ScriptOwned: true, Script: fallbackScript(sess)}
	}

	if confidenceOk(evt.Confidence, sess.Org.Rules.ConfirmationThreshold) && evt.Entities.Service != nil {
		return Outcome{State: StateCollectService, ScriptOwned: true, Script: invalidServiceScript(sess)}
	}
	return Outcome{State: StateCollectService}
}

func (sm *StateMachine) advanceCollectTimeWindow(sess *Session, evt ProcessIntent) Outcome {
	if sess.Slots.TimeWindow != "" {
		sess.RetryByState[StateCollectTimeWindow] = 0
		return Outcome{State: StateCollectContact}
	}
	sess.RetryByState[StateCollectTimeWindow]++
	if sm.retriesExceeded(sess, StateCollectTimeWindow) {
		return Outcome{State: StateFallback, ScriptOwned: true, Script: fallbackScript(sess)}
	}
	return Outcome{State: StateCollectTimeWindow}
}

func (sm *StateMachine) advanceCollectContact(sess *Session, evt ProcessIntent) Outcome {
	if sess.Slots.Contact != "" {
		sess.RetryByState[StateCollectContact] = 0
		return Outcome{State: StateConfirm, ScriptOwned: true, Script: confirmationScript(sess)}
	}
	sess.RetryByState[StateCollectContact]++
	if sm.retriesExceeded(sess, StateCollectContact) {
		return Outcome{State: StateFallback, ScriptOwned: true, Script: fallbackScript(sess)}
	}
	return Outcome{State: StateCollectContact}
}

func (sm *StateMachine) advanceConfirm(sess *Session, evt ProcessIntent) Outcome {
	switch evt.Intent {
	case IntentConfirmationYes:
		return sm.advanceBook(sess)
	case IntentConfirmationNo:
		// Clears every slot, not only the ones the caller objected to, then
		// re-applies the entities supplied on this same turn, so the flow
		// restarts at service collection with just this turn's corrections.
		corrected := evt.Entities
		sess.Slots.Clear()
		sess.Slots.Merge(corrected)
		return Outcome{State: StateCollectService}
	default:
		sess.RetryByState[StateConfirm]++
		if sm.retriesExceeded(sess, StateConfirm) {
			return Outcome{State: StateFallback, ScriptOwned: true, Script: fallbackScript(sess)}
		}
		return Outcome{State: StateConfirm, ScriptOwned: true, Script: confirmationScript(sess)}
	}
}

func (sm *StateMachine) advanceBook(sess *Session) Outcome {
	if err := sm.persister.Persist(sess.Slots); err != nil {
		return Outcome{State: StateCallbackScheduled, ScriptOwned: true, Script: callbackScheduledScript(sess), BookingError: err}
	}
	return Outcome{State: StateSuccess, ScriptOwned: true, Script: successScript(sess)}
}

// retriesExceeded implements the guard of spec §4.4.3, combined with the
// "2+ Silence timeouts in the same state" escalation of §4.4.4 step 4.
func (sm *StateMachine) retriesExceeded(sess *Session, state StateKey) bool {
	maxRetries := sess.Org.Rules.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if sess.RetryByState[state] >= maxRetries {
		return true
	}
	return sess.SilenceCount[state] >= 2
}

func confidenceOk(confidence, threshold float64) bool {
	if threshold <= 0 {
		threshold = 0.5
	}
	return confidence >= threshold
}

// serviceValid does a case-insensitive match against the organization's
// active services (spec §4.4.3 guard serviceValid).
func serviceValid(service string, services []orgcontext.Service) bool {
	if service == "" {
		return false
	}
	for _, s := range services {
		if s.Active && strings.EqualFold(s.Name, service) {
			return true
		}
	}
	return false
}
