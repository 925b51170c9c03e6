package dialogue

import (
	"fmt"
	"strings"
)

// scriptOrDefault looks up an organization's per-state script override
// (spec §3 "scripts: map<StateKey,string>"), falling back to a generic
// default when the organization didn't configure one for this state.
func scriptOrDefault(sess *Session, state StateKey, fallback string) string {
	if s, ok := sess.Org.Scripts[string(state)]; ok && s != "" {
		return s
	}
	return fallback
}

func invalidServiceScript(sess *Session) string {
	names := sess.Org.ActiveServiceNames()
	if len(names) == 0 {
		return scriptOrDefault(sess, StateCollectService,
			"I'm not sure we offer that. What would you like to book?")
	}
	return scriptOrDefault(sess, StateCollectService,
		fmt.Sprintf("I'm not sure we offer that. We do offer %s — which would you like?", strings.Join(names, ", ")))
}

// currentStatePrompt returns the canonical question for sess's current state,
// used to re-emit "the current state's prompt" after a digression (spec
// §4.4.4 step 2) without depending on whatever text the LLM happened to
// produce for this turn.
func currentStatePrompt(sess *Session) string {
	switch sess.State {
	case StateIdle, StateCollectService:
		return scriptOrDefault(sess, StateCollectService, "What service would you like to book?")
	case StateCollectTimeWindow:
		return scriptOrDefault(sess, StateCollectTimeWindow,
			fmt.Sprintf("What day and time works for your %s?", sess.Slots.Service))
	case StateCollectContact:
		return scriptOrDefault(sess, StateCollectContact,
			"What's the best name and number to reach you at?")
	case StateConfirm:
		return confirmationScript(sess)
	default:
		return scriptOrDefault(sess, sess.State, "")
	}
}

func confirmationScript(sess *Session) string {
	s := sess.Slots
	return scriptOrDefault(sess, StateConfirm,
		fmt.Sprintf("Just to confirm: %s, %s, for %s. Shall I book that?", s.Service, s.TimeWindow, s.Contact))
}

func successScript(sess *Session) string {
	return scriptOrDefault(sess, StateSuccess,
		"You're all set — your appointment is booked. Is there anything else I can help with?")
}

func callbackScheduledScript(sess *Session) string {
	return scriptOrDefault(sess, StateCallbackScheduled,
		"I wasn't able to confirm that booking automatically, but I've noted your details and someone will call you back shortly.")
}

func farewellScript(sess *Session) string {
	return scriptOrDefault(sess, StateRespondAndIdle,
		"I haven't heard from you in a bit, so I'll let you go for now. Feel free to call back anytime. Goodbye!")
}

func fallbackScript(sess *Session) string {
	base := sess.Org.Fallback
	if base == "" {
		base = "I'm having trouble helping with that. Let me connect you with someone who can."
	}
	if sess.Org.EscalationNumber != "" {
		return fmt.Sprintf("%s You can also reach us directly at %s.", base, sess.Org.EscalationNumber)
	}
	return base
}
