package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/brightloop-voice/booking-agent/internal/audio"
	"github.com/brightloop-voice/booking-agent/internal/config"
	"github.com/brightloop-voice/booking-agent/internal/observability"
)

const cartesiaAPIURL = "https://api.cartesia.ai/v1/tts"

// CartesiaClient implements Client using Cartesia's TTS API. One instance
// is constructed per call, bound to that organization's voice settings.
type CartesiaClient struct {
	config  *config.Config
	apiKey  string
	voiceID string
	modelID string
	speed   float64

	httpClient *http.Client

	mu       sync.Mutex
	isActive bool
	cancel   context.CancelFunc
}

type cartesiaRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// NewCartesiaClient creates a Cartesia TTS client bound to one call's voice.
func NewCartesiaClient(cfg *config.Config, voiceID string, speed float64) *CartesiaClient {
	if speed == 0 {
		speed = 1.0
	}
	return &CartesiaClient{
		config:     cfg,
		apiKey:     cfg.CartesiaAPIKey,
		voiceID:    voiceID,
		modelID:    cfg.CartesiaModelID,
		speed:      speed,
		httpClient: &http.Client{},
	}
}

// Speak converts text to audio via Cartesia's HTTP TTS endpoint. The whole
// response body is read and converted before it is delivered as one chunk.
func (c *CartesiaClient) Speak(text string) (<-chan *AudioChunk, <-chan Metrics, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("tts: cartesia client is already synthesizing")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.isActive = true
	c.cancel = cancel
	c.mu.Unlock()

	start := time.Now()

	reqBody := cartesiaRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.modelID,
		OutputFormat: "pcm",
		SampleRate:   24000,
		Speed:        c.speed,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		c.finish()
		return nil, nil, fmt.Errorf("tts: failed to marshal cartesia request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cartesiaAPIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		c.finish()
		return nil, nil, fmt.Errorf("tts: failed to build cartesia request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.finish()
		return nil, nil, fmt.Errorf("tts: cartesia request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.finish()
		return nil, nil, fmt.Errorf("tts: cartesia API returned status %d", resp.StatusCode)
	}
	generationMs := time.Since(start).Milliseconds()

	audioChan := make(chan *AudioChunk, 10)
	metricsChan := make(chan Metrics, 1)

	go func() {
		streamStart := time.Now()
		var totalBytes int64
		defer func() {
			resp.Body.Close()
			close(audioChan)
			metricsChan <- Metrics{
				GenerationMs: generationMs,
				StreamingMs:  time.Since(streamStart).Milliseconds(),
				Bytes:        totalBytes,
			}
			close(metricsChan)
			c.finish()
		}()

		audioData, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() == nil {
				observability.GetLogger().Warn().Err(err).Msg("tts: error reading cartesia audio response")
			}
			return
		}
		if len(audioData) == 0 {
			return
		}

		pcmuData, err := audio.ConvertPCMToPCMU(audioData, 24000, 8000)
		if err != nil {
			observability.GetLogger().Warn().Err(err).Msg("tts: error converting cartesia audio format")
			return
		}
		totalBytes = int64(len(pcmuData))

		select {
		case audioChan <- &AudioChunk{Data: pcmuData, SampleRate: 8000, Channels: 1}:
		case <-ctx.Done():
		}
	}()

	return audioChan, metricsChan, nil
}

func (c *CartesiaClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isActive = false
	c.cancel = nil
}

// Interrupt cancels any in-flight Speak call.
func (c *CartesiaClient) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// IsActive reports whether a Speak call is currently streaming.
func (c *CartesiaClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isActive
}

// Close releases the client's resources.
func (c *CartesiaClient) Close() error {
	return c.Interrupt()
}
