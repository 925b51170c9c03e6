package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/brightloop-voice/booking-agent/internal/config"
	"github.com/brightloop-voice/booking-agent/internal/observability"
	"github.com/brightloop-voice/booking-agent/internal/orgcontext"
)

// knownIntents validates the LLM's intent field against spec §4.4.2's enum;
// anything else is coerced to unclear.
var knownIntents = map[Intent]bool{
	IntentBooking:         true,
	IntentServiceProvided: true,
	IntentTimeProvided:    true,
	IntentContactProvided: true,
	IntentConfirmationYes: true,
	IntentConfirmationNo:  true,
	IntentDigression:      true,
	IntentUnclear:         true,
}

// structuralMarkers strips code-fence and JSON-leakage artifacts a model
// occasionally emits inside the `response` field (spec §4.4.6: "must not
// contain structural markers; any structural leakage must be stripped
// before TTS").
var structuralMarkers = regexp.MustCompile("```[a-zA-Z]*|[{}\\[\\]]")

// LLMRequest is the turn context sent to the classifier (spec §4.4.6).
type LLMRequest struct {
	Transcript    string
	State         StateKey
	Slots         Slots
	RecentHistory []HistoryEntry
	Services      []orgcontext.Service
	BusinessHours map[time.Weekday]orgcontext.BusinessHours
	Timezone      string
}

// LLMResponse is the strict-schema turn classification (spec §4.4.6).
type LLMResponse struct {
	Intent     Intent
	Confidence float64
	Entities   Entities
	Response   string
}

// LLMClient classifies one user turn. Implementations return an error only
// for transport-level failures; malformed provider output is coerced to
// LLMResponse{Intent: unclear, Confidence: 0} rather than returned as an error.
type LLMClient interface {
	Process(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// OpenAILLMClient implements LLMClient against any OpenAI-compatible
// chat-completions endpoint.
type OpenAILLMClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAILLMClient builds an OpenAILLMClient from config.
func NewOpenAILLMClient(cfg *config.Config) *OpenAILLMClient {
	oaiCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		oaiCfg.BaseURL = cfg.LLMBaseURL
	}
	return &OpenAILLMClient{
		client:      openai.NewClientWithConfig(oaiCfg),
		model:       cfg.LLMModel,
		temperature: cfg.LLMTemperature,
		timeout:     time.Duration(cfg.LLMTimeoutMs) * time.Millisecond,
	}
}

const systemPrompt = `You are a phone booking assistant. Given the caller's latest utterance and
the current conversation state, classify intent and extract booking entities.
Respond with a single JSON object, no prose, no code fences, matching exactly:
{"intent":"booking|service_provided|time_provided|contact_provided|confirmation_yes|confirmation_no|digression|unclear",
"confidence":0.0-1.0,
"entities":{"service":string|null,"timeWindow":string|null,"contact":string|null,"location":string|null,"notes":string|null,"replace":bool},
"response":"the next thing to say to the caller"}
Only set entities you can confidently infer from this turn; leave others null.
If the caller asks an off-topic question unrelated to booking (a digression),
classify intent as "digression" and set response to a brief inline answer
only — a short direct reply to what they asked. Do not restate the current
question yourself; the caller will be returned to it separately.`

type rawLLMOutput struct {
	Intent     string `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		Service    *string `json:"service"`
		TimeWindow *string `json:"timeWindow"`
		Contact    *string `json:"contact"`
		Location   *string `json:"location"`
		Notes      *string `json:"notes"`
		Replace    bool    `json:"replace"`
	} `json:"entities"`
	Response string `json:"response"`
}

// Process sends one turn to the LLM and validates its JSON response.
func (c *OpenAILLMClient) Process(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPayload, err := json.Marshal(struct {
		Transcript string         `json:"transcript"`
		State      StateKey       `json:"state"`
		Slots      Slots          `json:"slots"`
		History    []HistoryEntry `json:"recentHistory"`
		Services   []orgcontext.Service `json:"services"`
		Timezone   string         `json:"timezone"`
		BusinessHours map[time.Weekday]orgcontext.BusinessHours `json:"businessHours"`
	}{
		Transcript: req.Transcript,
		State:      req.State,
		Slots:      req.Slots,
		History:    req.RecentHistory,
		Services:   req.Services,
		Timezone:   req.Timezone,
		BusinessHours: req.BusinessHours,
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("dialogue: failed to marshal llm request: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(userPayload)},
		},
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("dialogue: llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, fmt.Errorf("dialogue: llm returned no choices")
	}

	return parseLLMOutput(resp.Choices[0].Message.Content), nil
}

// parseLLMOutput validates and coerces raw model output into LLMResponse.
// Any parse or validation failure coerces to unclear/0 rather than erroring
// (spec §4.4.6, §7 Protocol error handling).
func parseLLMOutput(content string) LLMResponse {
	var raw rawLLMOutput
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		observability.GetLogger().Warn().Err(err).Str("content", content).Msg("dialogue: malformed llm json, coercing to unclear")
		return LLMResponse{Intent: IntentUnclear, Confidence: 0}
	}

	intent := Intent(raw.Intent)
	if !knownIntents[intent] {
		intent = IntentUnclear
		raw.Confidence = 0
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return LLMResponse{
		Intent:     intent,
		Confidence: confidence,
		Entities: Entities{
			Service:    raw.Entities.Service,
			TimeWindow: raw.Entities.TimeWindow,
			Contact:    raw.Entities.Contact,
			Location:   raw.Entities.Location,
			Notes:      raw.Entities.Notes,
			Replace:    raw.Entities.Replace,
		},
		Response: sanitizeResponse(raw.Response),
	}
}

// sanitizeResponse strips structural markers from the agent's spoken text
// (spec §4.4.6).
func sanitizeResponse(text string) string {
	cleaned := structuralMarkers.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned)
}
