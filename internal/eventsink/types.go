// Package eventsink delivers turn and call records to an append-only log
// for analytics, without the voice path ever blocking on it (spec §6.4:
// "Both are best-effort; failures do not affect the voice path").
package eventsink

import "time"

// TurnRecord is emitted to the sink at the completion of every turn
// (spec §3 "Turn record").
type TurnRecord struct {
	SessionID    string    `json:"sessionId"`
	TurnIndex    int       `json:"turnIndex"`
	UserText     string    `json:"userText"`
	AgentText    string    `json:"agentText"`
	Intent       string    `json:"intent"`
	Confidence   float64   `json:"confidence"`
	StateBefore  string    `json:"stateBefore"`
	StateAfter   string    `json:"stateAfter"`
	ASRMs        int64     `json:"asrMs"`
	LLMMs        int64     `json:"llmMs"`
	TTSMs        int64     `json:"ttsMs"`
	TotalMs      int64     `json:"totalMs"`
	Error        string    `json:"error,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// CallUpdate reports the terminal (or latest) status of a call.
type CallUpdate struct {
	SessionID  string         `json:"sessionId"`
	Status     string         `json:"status"` // "in_progress"|"success"|"callback_scheduled"|"fallback"|"error"
	EndedAt    *time.Time     `json:"endedAt,omitempty"`
	FinalSlots map[string]any `json:"finalSlots,omitempty"`
	TurnIndex  int            `json:"turnIndex"`
	Error      string         `json:"error,omitempty"`
}
