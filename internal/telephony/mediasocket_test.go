package telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, callStore *CallStore, onSocket func(*MediaSocket)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms, err := Upgrade(w, r, callStore)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		go ms.ServeRead()
		go ms.ServeWrite()
		onSocket(ms)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestMediaSocket_StartEventWithCustomParameters(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	eventsCh := make(chan Event, 8)
	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		go func() {
			for e := range ms.Events() {
				eventsCh <- e
			}
		}()
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	start := wireMessage{
		Event: "start",
		Start: &wireStart{
			StreamSid: "MZ123",
			CallSid:   "CA123",
			CustomParameters: map[string]string{
				"to":   "+14155551212",
				"from": "+14155550100",
			},
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	select {
	case e := <-eventsCh:
		if e.Kind != EventStreamStart {
			t.Fatalf("expected EventStreamStart, got %v", e.Kind)
		}
		if e.CalledNumber != "+14155551212" || e.CallerNumber != "+14155550100" {
			t.Errorf("got event %+v", e)
		}
		if e.StreamID != "MZ123" {
			t.Errorf("expected stream id MZ123, got %s", e.StreamID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start event")
	}
}

func TestMediaSocket_StartEventFallsBackToCallStore(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()
	callStore.Put("CA999", "+14155551212", "+14155550100")

	eventsCh := make(chan Event, 8)
	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		go func() {
			for e := range ms.Events() {
				eventsCh <- e
			}
		}()
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	start := wireMessage{
		Event: "start",
		Start: &wireStart{
			StreamSid: "MZ999",
			CallSid:   "CA999",
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	select {
	case e := <-eventsCh:
		if e.CalledNumber != "+14155551212" || e.CallerNumber != "+14155550100" {
			t.Errorf("expected CallStore fallback values, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start event")
	}
}

func TestMediaSocket_MediaEventDecodesPayload(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	eventsCh := make(chan Event, 8)
	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		go func() {
			for e := range ms.Events() {
				eventsCh <- e
			}
		}()
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	media := wireMessage{
		Event: "media",
		Media: &wireMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	}
	if err := conn.WriteJSON(media); err != nil {
		t.Fatalf("write media: %v", err)
	}

	select {
	case e := <-eventsCh:
		if e.Kind != EventMediaIn {
			t.Fatalf("expected EventMediaIn, got %v", e.Kind)
		}
		if string(e.Payload) != string(payload) {
			t.Errorf("got payload %v, want %v", e.Payload, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for media event")
	}
}

func TestMediaSocket_StopEventClosesEventsChannel(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	eventsCh := make(chan Event, 8)
	closedCh := make(chan struct{})
	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		go func() {
			for e := range ms.Events() {
				eventsCh <- e
			}
			close(closedCh)
		}()
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	stop := wireMessage{Event: "stop"}
	if err := conn.WriteJSON(stop); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case e := <-eventsCh:
		if e.Kind != EventStreamStop {
			t.Fatalf("expected EventStreamStop, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop event")
	}

	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected events channel to close after stop")
	}
}

func TestMediaSocket_SendWritesOutboundFrame(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		ms.Send(OutboundFrame{StreamID: "MZ123", Payload: []byte{0xAA, 0xBB}})
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg outboundMediaMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read outbound frame: %v", err)
	}
	if msg.Event != "media" || msg.StreamSid != "MZ123" {
		t.Errorf("got message %+v", msg)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != string([]byte{0xAA, 0xBB}) {
		t.Errorf("got payload %v", decoded)
	}
}

func TestMediaSocket_MalformedWireMessageIsSkipped(t *testing.T) {
	callStore := NewCallStore()
	defer callStore.Close()

	eventsCh := make(chan Event, 8)
	srv, wsURL := newTestServer(t, callStore, func(ms *MediaSocket) {
		go func() {
			for e := range ms.Events() {
				eventsCh <- e
			}
		}()
	})
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write malformed message: %v", err)
	}

	payload, _ := json.Marshal(wireMessage{Event: "stop"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case e := <-eventsCh:
		if e.Kind != EventStreamStop {
			t.Fatalf("expected malformed message to be skipped and stop to still arrive, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop event after malformed message")
	}
}
