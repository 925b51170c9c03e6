package tts

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brightloop-voice/booking-agent/internal/config"
	"github.com/brightloop-voice/booking-agent/internal/observability"
)

const elevenLabsWSBaseURL = "wss://api.elevenlabs.io"

// ElevenLabsClient implements Client using ElevenLabs' WebSocket streaming
// synthesis endpoint. Requesting pcm_8000 output lets it feed Twilio's
// media stream without the PCM->PCMU resample CartesiaClient needs.
type ElevenLabsClient struct {
	apiKey  string
	voiceID string
	modelID string
	speed   float64

	mu       sync.Mutex
	isActive bool
	conn     *websocket.Conn
}

// NewElevenLabsClient creates an ElevenLabs TTS client bound to one call's voice.
func NewElevenLabsClient(cfg *config.Config, voiceID string, speed float64) *ElevenLabsClient {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // ElevenLabs' default sample voice
	}
	if speed <= 0 {
		speed = 1.0
	}
	return &ElevenLabsClient{
		apiKey:  cfg.ElevenAPIKey,
		voiceID: voiceID,
		modelID: cfg.ElevenModelID,
		speed:   speed,
	}
}

// Speak opens a streaming synthesis connection and sends text for synthesis.
func (c *ElevenLabsClient) Speak(text string) (<-chan *AudioChunk, <-chan Metrics, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("tts: elevenlabs client is already synthesizing")
	}
	c.isActive = true
	c.mu.Unlock()

	start := time.Now()

	u, err := url.Parse(elevenLabsWSBaseURL + "/v1/text-to-speech/" + url.PathEscape(c.voiceID) + "/stream-input")
	if err != nil {
		c.finish()
		return nil, nil, fmt.Errorf("tts: invalid elevenlabs url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", c.modelID)
	q.Set("output_format", "pcm_8000")
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", c.apiKey)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		c.finish()
		return nil, nil, fmt.Errorf("tts: dial elevenlabs websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	voiceSettings := map[string]any{
		"stability":        0.5,
		"similarity_boost": 0.8,
		"speed":            c.speed,
	}
	if err := conn.WriteJSON(map[string]any{"text": " ", "voice_settings": voiceSettings}); err != nil {
		conn.Close()
		c.finish()
		return nil, nil, fmt.Errorf("tts: failed to prime elevenlabs stream: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		conn.Close()
		c.finish()
		return nil, nil, fmt.Errorf("tts: failed to send text to elevenlabs: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		conn.Close()
		c.finish()
		return nil, nil, fmt.Errorf("tts: failed to close elevenlabs input: %w", err)
	}

	audioChan := make(chan *AudioChunk, 10)
	metricsChan := make(chan Metrics, 1)

	go c.readLoop(conn, audioChan, metricsChan, start)

	return audioChan, metricsChan, nil
}

func (c *ElevenLabsClient) readLoop(conn *websocket.Conn, audioChan chan *AudioChunk, metricsChan chan Metrics, start time.Time) {
	var (
		firstByteMs int64
		totalBytes  int64
		gotFirst    bool
	)
	streamStart := time.Now()

	defer func() {
		conn.Close()
		close(audioChan)
		metricsChan <- Metrics{
			GenerationMs: firstByteMs,
			StreamingMs:  time.Since(streamStart).Milliseconds(),
			Bytes:        totalBytes,
		}
		close(metricsChan)
		c.finish()
	}()

	for {
		var msg struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Error != "" {
			observability.GetLogger().Warn().Str("error", msg.Error).Msg("tts: elevenlabs reported an error")
			return
		}
		if msg.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				observability.GetLogger().Warn().Err(err).Msg("tts: failed to decode elevenlabs audio chunk")
				continue
			}
			if !gotFirst {
				firstByteMs = time.Since(start).Milliseconds()
				gotFirst = true
			}
			totalBytes += int64(len(decoded))
			select {
			case audioChan <- &AudioChunk{Data: decoded, SampleRate: 8000, Channels: 1}:
			case <-time.After(2 * time.Second):
				return
			}
		}
		if msg.IsFinal {
			return
		}
	}
}

func (c *ElevenLabsClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isActive = false
	c.conn = nil
}

// Interrupt closes the active synthesis connection, for barge-in.
func (c *ElevenLabsClient) Interrupt() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsActive reports whether a Speak call is currently streaming.
func (c *ElevenLabsClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isActive
}

// Close releases the client's resources.
func (c *ElevenLabsClient) Close() error {
	return c.Interrupt()
}
