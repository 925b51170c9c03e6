package dialogue

import "fmt"

// silenceNudges holds 3-4 rotating phrasings per slot-fill context so a
// caller who goes quiet twice in a row doesn't hear the identical prompt
// (spec §4.4.8). Selection bucket is keyed by which slots are already
// filled, not by StateKey directly, since CollectService/CollectTimeWindow/
// CollectContact all share the "what's filled so far" framing.
var silenceNudges = map[string][]string{
	"none": {
		"Sorry, I didn't catch that — what would you like to book?",
		"Still there? Let me know what you'd like to schedule.",
		"Take your time — just tell me what you're looking to book.",
	},
	"service": {
		"I have you down for %s — what day and time works for you?",
		"Still with me? When would you like to come in for %s?",
		"Whenever you're ready, just tell me a day and time for %s.",
	},
	"service_time": {
		"Almost done — can I get a good name and phone number for the booking?",
		"Still there? I just need a name and number to finish up.",
		"Take your time — who should I put this appointment under?",
	},
	"all": {
		"Sorry, still there? Just say yes to confirm, or let me know what to change.",
		"Whenever you're ready — shall I go ahead and book this?",
		"Take your time — just say yes if that all looks right.",
	},
}

// silenceNudgeBucket classifies a session's slot-fill progress for nudge
// selection (spec §4.4.8's "no slot yet / service only / service + time /
// all slots" contexts).
func silenceNudgeBucket(slots Slots) string {
	switch {
	case slots.HasAllRequired():
		return "all"
	case slots.Service != "" && slots.TimeWindow != "":
		return "service_time"
	case slots.Service != "":
		return "service"
	default:
		return "none"
	}
}

// silenceNudge picks the next rotating phrasing for sess.State given how
// many silence nudges this state has already produced, substituting the
// known service name where the phrasing references it.
func silenceNudge(sess *Session) string {
	bucket := silenceNudgeBucket(sess.Slots)
	phrasings := silenceNudges[bucket]
	idx := sess.SilenceCount[sess.State] % len(phrasings)
	phrasing := phrasings[idx]
	if bucket == "service" {
		return fmt.Sprintf(phrasing, sess.Slots.Service)
	}
	return phrasing
}
