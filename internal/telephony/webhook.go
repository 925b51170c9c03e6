package telephony

import (
	"fmt"
	"html"
	"net/http"

	"github.com/brightloop-voice/booking-agent/internal/observability"
)

// WebhookHandler returns the inbound-call HTTP handler (spec §6.2). It
// parses the provider's `To`/`From`/`CallSid` form fields, writes them to
// callStore as a fallback path for the media stream's `start` event, and
// returns an XML voice-response document instructing the provider to open
// a bidirectional media stream back to this service.
//
// Provisioning the webhook itself (registering it with the telephony
// provider) is out of scope — this only serves the request once the
// provider calls it.
func WebhookHandler(callStore *CallStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form body", http.StatusBadRequest)
			return
		}

		to := r.FormValue("To")
		from := r.FormValue("From")
		callSid := r.FormValue("CallSid")

		observability.GetLogger().Info().
			Str("to", to).
			Str("from", from).
			Str("call_sid", callSid).
			Msg("telephony: inbound call webhook")

		if callSid != "" {
			callStore.Put(callSid, to, from)
		}

		wsURL := fmt.Sprintf("wss://%s/streams/voice", r.Host)
		doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="to" value="%s"/>
            <Parameter name="from" value="%s"/>
            <Parameter name="callSid" value="%s"/>
        </Stream>
    </Connect>
</Response>`, html.EscapeString(wsURL), html.EscapeString(to), html.EscapeString(from), html.EscapeString(callSid))

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc))
	}
}
