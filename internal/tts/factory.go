package tts

import (
	"fmt"

	"github.com/brightloop-voice/booking-agent/internal/config"
)

// VoiceSelection is the subset of orgcontext.VoiceSettings the factory
// needs; declared locally so this package doesn't import orgcontext.
type VoiceSelection struct {
	Provider string
	VoiceID  string
	Speed    float64
}

// NewClient constructs the Client for one call, selecting the provider from
// the organization's voice settings and falling back to config.TTSProvider
// when the organization didn't specify one.
func NewClient(cfg *config.Config, voice VoiceSelection) (Client, error) {
	provider := voice.Provider
	if provider == "" {
		provider = cfg.TTSProvider
	}

	switch provider {
	case "cartesia":
		return NewCartesiaClient(cfg, voice.VoiceID, voice.Speed), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg, voice.VoiceID, voice.Speed), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", provider)
	}
}
