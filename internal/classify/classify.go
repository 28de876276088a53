package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nhle/mail-agent/internal/model"
)

// ClassificationError indicates a provider failure: rate limit,
// timeout, transport error, or a malformed response. The affected
// message is skipped and retried on a later cycle; this error kind is
// never fatal to the agent.
type ClassificationError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification error (%s): %v", e.Provider, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// IsClassificationError reports whether err (or any error in its
// chain) is a ClassificationError.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

// Classifier is the analysis capability backed by a hosted model API.
// The agent performs no inference itself.
type Classifier interface {
	// Analyze classifies one message into a structured Analysis.
	Analyze(ctx context.Context, msg model.Message) (model.Analysis, error)

	// GenerateReply drafts a response body for a message the analysis
	// flagged as requiring one.
	GenerateReply(ctx context.Context, msg model.Message, analysis model.Analysis) (string, error)
}

// New constructs the classifier selected by the configuration.
func New(cfg model.AIConfig) (Classifier, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported classifier provider %q", cfg.Provider)
	}
}

// bodyPreviewLimit caps how much body text is sent for analysis.
const bodyPreviewLimit = 1000

// truncateBody caps the body at limit bytes without splitting a UTF-8
// rune at the cut.
func truncateBody(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

// buildAnalysisPrompt constructs the classification prompt for a
// message, truncating long bodies.
func buildAnalysisPrompt(msg model.Message) string {
	body := truncateBody(msg.Body, bodyPreviewLimit)

	var sb strings.Builder
	sb.WriteString("Analyze the following email and provide a structured analysis:\n\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	sb.WriteString(fmt.Sprintf("Body: %s\n\n", body))
	sb.WriteString("Respond with a JSON object containing:\n")
	sb.WriteString("- category: one of [urgent, spam, personal, business, newsletter, support, other]\n")
	sb.WriteString("- sentiment: one of [positive, negative, neutral]\n")
	sb.WriteString("- priority: one of [low, medium, high, critical]\n")
	sb.WriteString("- requires_response: boolean\n")
	sb.WriteString("- suggested_actions: array of suggested actions\n")
	sb.WriteString("- confidence: float between 0 and 1\n\n")
	sb.WriteString("Focus on:\n")
	sb.WriteString("1. Email classification based on content and sender\n")
	sb.WriteString("2. Urgency and priority assessment\n")
	sb.WriteString("3. Whether the email requires a response\n\n")
	sb.WriteString("Respond only with valid JSON.")

	return sb.String()
}

// buildReplyPrompt constructs the response-generation prompt.
func buildReplyPrompt(msg model.Message, analysis model.Analysis) string {
	var sb strings.Builder
	sb.WriteString("Generate a professional email response based on the following:\n\n")
	sb.WriteString("Original Email:\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	sb.WriteString(fmt.Sprintf("Body: %s\n\n", msg.Body))
	sb.WriteString("Analysis:\n")
	sb.WriteString(fmt.Sprintf("- Category: %s\n", analysis.Category))
	sb.WriteString(fmt.Sprintf("- Priority: %s\n", analysis.Priority))
	sb.WriteString(fmt.Sprintf("- Sentiment: %s\n\n", analysis.Sentiment))
	sb.WriteString("Generate a professional, appropriate response that ")
	sb.WriteString("addresses the sender's concerns, maintains a professional ")
	sb.WriteString("tone, and is concise but complete. Respond with only the ")
	sb.WriteString("email body text, no subject line.")

	return sb.String()
}

// analysisPayload mirrors the JSON object the model is asked for.
type analysisPayload struct {
	Category         string   `json:"category"`
	Sentiment        string   `json:"sentiment"`
	Priority         string   `json:"priority"`
	RequiresResponse bool     `json:"requires_response"`
	SuggestedActions []string `json:"suggested_actions"`
	Confidence       *float64 `json:"confidence"`
}

// parseAnalysis decodes the model's JSON reply into an Analysis.
// Unknown labels fall back to safe defaults; a reply with no JSON
// object at all is an error.
func parseAnalysis(text string) (model.Analysis, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return model.Analysis{}, fmt.Errorf("no JSON object in model reply")
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return model.Analysis{}, fmt.Errorf("decoding analysis: %w", err)
	}

	confidence := 0.5
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return model.Analysis{
		Category:         model.ParseCategory(payload.Category),
		Sentiment:        model.ParseSentiment(payload.Sentiment),
		Priority:         model.ParsePriority(payload.Priority),
		RequiresResponse: payload.RequiresResponse,
		Confidence:       confidence,
		SuggestedActions: payload.SuggestedActions,
	}, nil
}

// extractJSONObject returns the first top-level {...} block in the
// text. Models occasionally wrap the requested JSON in prose or code
// fences despite instructions.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
