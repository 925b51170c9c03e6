// Package telephony adapts a raw bidirectional WebSocket media stream
// (spec §6.1's JSON-framed wire format) into typed Go events, and frames
// outbound synthesized audio back onto the wire. It never interprets
// audio — only frames it (spec §4.1's "The adapter never interprets
// audio; it only frames").
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brightloop-voice/booking-agent/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Telephony providers connect from their own infrastructure, not a
		// browser origin; there is no Origin header to validate against.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wireMessage mirrors spec §6.1's inbound wire shape.
type wireMessage struct {
	Event string      `json:"event"`
	Start *wireStart  `json:"start,omitempty"`
	Media *wireMedia  `json:"media,omitempty"`
}

type wireStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type wireMedia struct {
	Payload string `json:"payload"`
}

// outboundMediaMessage mirrors spec §6.1's outbound wire shape.
type outboundMediaMessage struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid"`
	Media     outboundMediaBody `json:"media"`
}

type outboundMediaBody struct {
	Payload string `json:"payload"`
}

// EventKind tags the variant of an inbound MediaSocket Event.
type EventKind int

const (
	EventStreamStart EventKind = iota
	EventMediaIn
	EventStreamStop
)

// Event is the typed decode of one inbound wire message.
type Event struct {
	Kind         EventKind
	StreamID     string
	CalledNumber string // E.164, from customParameters.to or CallStore fallback
	CallerNumber string // E.164, from customParameters.from or CallStore fallback
	CallSid      string
	Payload      []byte // decoded PCMU audio, only set for EventMediaIn
}

// OutboundFrame is one chunk of synthesized audio to write to the socket.
type OutboundFrame struct {
	StreamID string
	Payload  []byte // raw PCMU, will be base64-encoded on the wire
}

// MediaSocket frames one call's bidirectional WebSocket connection.
type MediaSocket struct {
	conn      *websocket.Conn
	callStore *CallStore
	events    chan Event
	outbound  chan OutboundFrame
	done      chan struct{}
}

// Upgrade upgrades an HTTP request to a WebSocket and returns a MediaSocket
// ready to be driven by ServeRead/ServeWrite.
func Upgrade(w http.ResponseWriter, r *http.Request, callStore *CallStore) (*MediaSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: websocket upgrade: %w", err)
	}
	return &MediaSocket{
		conn:      conn,
		callStore: callStore,
		events:    make(chan Event, 32),
		outbound:  make(chan OutboundFrame, 64),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of decoded inbound events.
func (m *MediaSocket) Events() <-chan Event {
	return m.events
}

// Send queues an outbound audio frame for writing to the socket.
// Non-blocking: if the write queue is saturated the frame is dropped.
func (m *MediaSocket) Send(frame OutboundFrame) {
	select {
	case m.outbound <- frame:
	default:
		observability.GetLogger().Warn().
			Str("stream_id", frame.StreamID).
			Msg("telephony: outbound queue full, dropping audio frame")
	}
}

// Close tears down the socket and stops the read/write loops.
func (m *MediaSocket) Close() error {
	select {
	case <-m.done:
		// already closed
	default:
		close(m.done)
	}
	return m.conn.Close()
}

// ServeRead blocks, decoding inbound wire messages into Events until the
// socket closes or Close is called. Run this in its own goroutine; it
// closes the Events channel on return.
func (m *MediaSocket) ServeRead() {
	defer close(m.events)

	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			m.emit(Event{Kind: EventStreamStop})
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			observability.GetLogger().Error().Err(err).Msg("telephony: malformed wire message")
			continue
		}

		switch msg.Event {
		case "start":
			m.handleStart(msg.Start)
		case "media":
			m.handleMedia(msg.Media)
		case "stop":
			m.emit(Event{Kind: EventStreamStop})
			return
		}
	}
}

func (m *MediaSocket) handleStart(start *wireStart) {
	if start == nil {
		return
	}

	to := start.CustomParameters["to"]
	from := start.CustomParameters["from"]

	if (to == "" || from == "") && m.callStore != nil {
		if entry, ok := m.callStore.TakeOnce(start.CallSid); ok {
			if to == "" {
				to = entry.To
			}
			if from == "" {
				from = entry.From
			}
		}
	}

	m.emit(Event{
		Kind:         EventStreamStart,
		StreamID:     start.StreamSid,
		CalledNumber: to,
		CallerNumber: from,
		CallSid:      start.CallSid,
	})
}

func (m *MediaSocket) handleMedia(media *wireMedia) {
	if media == nil || media.Payload == "" {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		observability.GetLogger().Error().Err(err).Msg("telephony: failed to decode media payload")
		return
	}
	m.emit(Event{Kind: EventMediaIn, Payload: decoded})
}

func (m *MediaSocket) emit(e Event) {
	select {
	case m.events <- e:
	case <-m.done:
	}
}

// ServeWrite blocks, writing queued outbound frames to the socket until
// Close is called. Run this in its own goroutine.
func (m *MediaSocket) ServeWrite() {
	for {
		select {
		case frame := <-m.outbound:
			msg := outboundMediaMessage{
				Event:     "media",
				StreamSid: frame.StreamID,
				Media:     outboundMediaBody{Payload: base64.StdEncoding.EncodeToString(frame.Payload)},
			}
			if err := m.conn.WriteJSON(msg); err != nil {
				observability.GetLogger().Warn().Err(err).Msg("telephony: failed to write outbound frame")
			}
		case <-m.done:
			return
		}
	}
}

// NewStreamID generates an internal identifier for correlating a stream
// when the provider's own streamSid is not yet known (e.g. before `start`).
func NewStreamID() string {
	return uuid.New().String()
}
