// Package orgcontext resolves a dialed E.164 phone number to the
// organization configuration a call should be run with: greeting and
// fallback scripts, the service catalog, business hours, voice settings,
// and booking rules.
package orgcontext

import "time"

// Service is one bookable offering an organization exposes.
type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	Active          bool   `json:"active"`
}

// BusinessHours is one weekday's open/close window.
type BusinessHours struct {
	Start   string `json:"start"` // "09:00"
	End     string `json:"end"`   // "17:00"
	Enabled bool   `json:"enabled"`
}

// VoiceSettings selects and tunes the TTS voice used for a call.
type VoiceSettings struct {
	Provider string  `json:"provider"` // "cartesia" | "elevenlabs"
	VoiceID  string  `json:"voiceId"`
	Speed    float64 `json:"speed"`
	Pitch    float64 `json:"pitch"`
}

// Rules holds the per-organization booking policy knobs referenced
// throughout the state machine's guards.
type Rules struct {
	DefaultSlotMinutes    int     `json:"defaultSlotMinutes"`
	BufferMinutes         int     `json:"bufferMinutes"`
	AllowDoubleBooking    bool    `json:"allowDoubleBooking"`
	MaxRetries            int     `json:"maxRetries"`
	ConfirmationThreshold float64 `json:"confirmationThreshold"`
}

// Integration reports the status of an external connector (calendar, CRM)
// that this package's Non-goal boundary treats as opaque.
type Integration struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Context is the read-only configuration resolved for a call from its
// dialed number. It is immutable for the lifetime of the session it is
// attached to.
type Context struct {
	ID            string                       `json:"id"`
	DisplayName   string                       `json:"displayName"`
	DialedNumber  string                       `json:"dialedNumber"`
	Greeting      string                       `json:"greeting"`
	Fallback      string                       `json:"fallback"`
	Scripts       map[string]string            `json:"scripts"` // keyed by StateKey
	Services      []Service                    `json:"services"`
	BusinessHours map[time.Weekday]BusinessHours `json:"businessHours"`
	Timezone      string                       `json:"timezone"`
	Holidays      []string                     `json:"holidays"` // ISO dates
	VoiceSettings VoiceSettings                `json:"voiceSettings"`
	Rules         Rules                        `json:"rules"`
	EscalationNumber string                    `json:"escalationNumber,omitempty"`
	Integrations  []Integration                `json:"integrations"`
}

// ActiveServiceNames returns the display names of services currently
// bookable, for use in "closest listed services" fallback responses
// (spec scenario S4).
func (c Context) ActiveServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		if s.Active {
			names = append(names, s.Name)
		}
	}
	return names
}

// Default returns the generic fallback context used when a dialed number
// has no organization mapping (spec §6.3): empty services, generic
// greeting, and conservative rule defaults.
func Default(dialedNumber string) Context {
	return Context{
		ID:           "default",
		DisplayName:  "our office",
		DialedNumber: dialedNumber,
		Greeting:     "Thanks for calling. How can I help you today?",
		Fallback:     "I'm sorry, I'm having trouble helping with that right now. Let me connect you with someone who can.",
		Scripts:      map[string]string{},
		Services:     nil,
		Timezone:     "America/New_York",
		VoiceSettings: VoiceSettings{
			Provider: "cartesia",
			VoiceID:  "default",
			Speed:    1.0,
			Pitch:    0.0,
		},
		Rules: Rules{
			DefaultSlotMinutes:    30,
			BufferMinutes:         0,
			AllowDoubleBooking:    false,
			MaxRetries:            3,
			ConfirmationThreshold: 0.5,
		},
	}
}
