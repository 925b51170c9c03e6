package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestWebhookHandler_ReturnsStreamTwiML(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	form := url.Values{
		"To":      {"+14155551212"},
		"From":    {"+14155550100"},
		"CallSid": {"CA123"},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice/incoming", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "booking.example.com"

	rec := httptest.NewRecorder()
	WebhookHandler(callStore)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<Connect>`) || !strings.Contains(body, `wss://booking.example.com/streams/voice`) {
		t.Errorf("response missing expected stream directive: %s", body)
	}
	if !strings.Contains(body, `name="to" value="+14155551212"`) {
		t.Errorf("response missing to parameter: %s", body)
	}
}

func TestWebhookHandler_PopulatesCallStore(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	form := url.Values{
		"To":      {"+14155551212"},
		"From":    {"+14155550100"},
		"CallSid": {"CA456"},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice/incoming", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	WebhookHandler(callStore)(rec, req)

	entry, ok := callStore.TakeOnce("CA456")
	if !ok {
		t.Fatal("expected webhook to populate callStore")
	}
	if entry.To != "+14155551212" || entry.From != "+14155550100" {
		t.Errorf("got entry %+v", entry)
	}
}

func TestWebhookHandler_EscapesInjectedFormValues(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	form := url.Values{
		"To":      {`"/><Parameter name="evil" value="x"/>`},
		"From":    {`+14155550100"`},
		"CallSid": {`CA789<script>`},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice/incoming", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "booking.example.com"

	rec := httptest.NewRecorder()
	WebhookHandler(callStore)(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, `<Parameter name="evil"`) {
		t.Errorf("caller-supplied value escaped out of its attribute: %s", body)
	}
	if strings.Contains(body, `<script>`) {
		t.Errorf("caller-supplied value injected unescaped markup: %s", body)
	}
}

func TestWebhookHandler_InvalidFormBody(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	req := httptest.NewRequest(http.MethodPost, "/voice/incoming", nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=%")

	rec := httptest.NewRecorder()
	WebhookHandler(callStore)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed content-type, got %d", rec.Code)
	}
}
