// Package tts streams synthesized speech for the active call, supporting
// interrupt-on-barge-in and reporting per-utterance timing so the caller
// can populate turn metrics (spec §4.5).
package tts

// AudioChunk is one piece of synthesized audio ready to write to the wire.
type AudioChunk struct {
	Data       []byte // PCMU, 8kHz mono
	SampleRate int
	Channels   int
}

// Metrics reports per-Speak timing, used to populate eventsink.TurnRecord.
type Metrics struct {
	GenerationMs int64 // time to first audio byte from the provider
	StreamingMs  int64 // time spent streaming audio chunks
	Bytes        int64 // total PCMU bytes produced
}

// Client synthesizes text to streamed audio for one organization's voice
// configuration. A Client is not safe for concurrent Speak calls; the
// dialogue orchestrator serializes all TTS activity for a session.
type Client interface {
	// Speak starts synthesizing text, returning a channel of audio chunks
	// and a channel that receives final Metrics once synthesis completes
	// (successfully or via Interrupt).
	Speak(text string) (<-chan *AudioChunk, <-chan Metrics, error)

	// Interrupt stops the in-flight Speak call immediately, for barge-in.
	// A no-op if nothing is active.
	Interrupt() error

	// IsActive reports whether a Speak call is currently streaming audio.
	IsActive() bool

	// Close releases the client's resources.
	Close() error
}
