package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-agent/internal/model"
)

func TestNewSelectsProvider(t *testing.T) {
	c, err := New(model.AIConfig{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, c)

	c, err = New(model.AIConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)

	_, err = New(model.AIConfig{Provider: "cohere", APIKey: "k"})
	assert.Error(t, err)
}

func TestParseAnalysis(t *testing.T) {
	text := `{
		"category": "urgent",
		"sentiment": "negative",
		"priority": "critical",
		"requires_response": true,
		"suggested_actions": ["notify_team"],
		"confidence": 0.92
	}`

	a, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryUrgent, a.Category)
	assert.Equal(t, model.SentimentNegative, a.Sentiment)
	assert.Equal(t, model.PriorityCritical, a.Priority)
	assert.True(t, a.RequiresResponse)
	assert.Equal(t, []string{"notify_team"}, a.SuggestedActions)
	assert.InDelta(t, 0.92, a.Confidence, 1e-9)
}

func TestParseAnalysisWrappedInProse(t *testing.T) {
	text := "Here is the analysis you asked for:\n```json\n" +
		`{"category": "newsletter", "sentiment": "neutral", "priority": "low"}` +
		"\n```\nLet me know if you need anything else."

	a, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryNewsletter, a.Category)
	assert.Equal(t, model.PriorityLow, a.Priority)
	// Absent confidence defaults to the midpoint.
	assert.InDelta(t, 0.5, a.Confidence, 1e-9)
}

func TestParseAnalysisUnknownLabelsFallBack(t *testing.T) {
	text := `{"category": "invoices", "sentiment": "mixed", "priority": "sev1"}`

	a, err := parseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, a.Category)
	assert.Equal(t, model.SentimentNeutral, a.Sentiment)
	assert.Equal(t, model.PriorityMedium, a.Priority)
}

func TestParseAnalysisClampsConfidence(t *testing.T) {
	a, err := parseAnalysis(`{"category": "spam", "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Confidence)

	a, err = parseAnalysis(`{"category": "spam", "confidence": -0.3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Confidence)
}

func TestParseAnalysisNoJSON(t *testing.T) {
	_, err := parseAnalysis("I could not classify this email.")
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"braces inside strings", `{"a":"{not a block}"}`, `{"a":"{not a block}"}`},
		{"escaped quote", `{"a":"say \"hi\""}`, `{"a":"say \"hi\""}`},
		{"prose around", `result: {"a":1} done`, `{"a":1}`},
		{"unterminated", `{"a":1`, ""},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}

func TestBuildAnalysisPromptTruncatesBody(t *testing.T) {
	msg := model.Message{
		From:    "a@b.c",
		Subject: "big",
		Body:    strings.Repeat("a", 5000),
	}
	prompt := buildAnalysisPrompt(msg)
	assert.Less(t, len(prompt), 2500)
	assert.Contains(t, prompt, "...")
}

func TestTruncateBodyKeepsRunesIntact(t *testing.T) {
	// A 2-byte rune straddling the limit must be dropped whole, not
	// cut mid-sequence.
	body := strings.Repeat("a", 9) + "é" + strings.Repeat("b", 5)

	got := truncateBody(body, 10)
	assert.Equal(t, strings.Repeat("a", 9)+"...", got)
	assert.True(t, utf8.ValidString(got))

	// A limit falling between runes truncates normally.
	got = truncateBody(body, 11)
	assert.Equal(t, strings.Repeat("a", 9)+"é...", got)
	assert.True(t, utf8.ValidString(got))

	// Short bodies pass through untouched.
	assert.Equal(t, "héllo", truncateBody("héllo", 100))
}

func anthropicReply(t *testing.T, text string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		resp := anthropicResponse{
			Type: "message",
			Role: "assistant",
			Content: []anthropicContentBlock{
				{Type: "text", Text: text},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestAnthropicAnalyze(t *testing.T) {
	srv := httptest.NewServer(anthropicReply(t,
		`{"category": "support", "sentiment": "neutral", "priority": "high", "requires_response": true, "confidence": 0.8}`,
	))
	defer srv.Close()

	a := NewAnthropic(model.AIConfig{APIKey: "test-key"})
	a.apiURL = srv.URL

	analysis, err := a.Analyze(context.Background(), model.Message{
		From:    "bob@example.com",
		Subject: "printer on fire",
		Body:    "please advise",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategorySupport, analysis.Category)
	assert.Equal(t, model.PriorityHigh, analysis.Priority)
	assert.True(t, analysis.RequiresResponse)
}

func TestAnthropicRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`)
	}))
	defer srv.Close()

	a := NewAnthropic(model.AIConfig{APIKey: "test-key"})
	a.apiURL = srv.URL

	_, err := a.Analyze(context.Background(), model.Message{Subject: "x"})
	require.Error(t, err)
	assert.True(t, IsClassificationError(err))

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable)
	assert.Contains(t, ce.Err.Error(), "slow down")
}

func TestAnthropicBadJSONReply(t *testing.T) {
	srv := httptest.NewServer(anthropicReply(t, "sorry, I cannot help with that"))
	defer srv.Close()

	a := NewAnthropic(model.AIConfig{APIKey: "test-key"})
	a.apiURL = srv.URL

	_, err := a.Analyze(context.Background(), model.Message{Subject: "x"})
	require.Error(t, err)

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
}

func TestAnthropicGenerateReply(t *testing.T) {
	srv := httptest.NewServer(anthropicReply(t, "  Thanks for reaching out.\n"))
	defer srv.Close()

	a := NewAnthropic(model.AIConfig{APIKey: "test-key"})
	a.apiURL = srv.URL

	body, err := a.GenerateReply(context.Background(), model.Message{
		From:    "bob@example.com",
		Subject: "question",
	}, model.DefaultAnalysis())
	require.NoError(t, err)
	assert.Equal(t, "Thanks for reaching out.", body)
}

func TestOpenAIAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [
				{"message": {"role": "assistant", "content": "{\"category\": \"spam\", \"sentiment\": \"neutral\", \"priority\": \"low\", \"confidence\": 0.99}"}}
			]
		}`)
	}))
	defer srv.Close()

	o := NewOpenAI(model.AIConfig{APIKey: "test-key"})
	o.apiURL = srv.URL

	analysis, err := o.Analyze(context.Background(), model.Message{
		From:    "promo@deals.example",
		Subject: "YOU WON",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategorySpam, analysis.Category)
	assert.InDelta(t, 0.99, analysis.Confidence, 1e-9)
}

func TestOpenAIServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewOpenAI(model.AIConfig{APIKey: "test-key"})
	o.apiURL = srv.URL

	_, err := o.Analyze(context.Background(), model.Message{Subject: "x"})
	require.Error(t, err)

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable)
	assert.Equal(t, "openai", ce.Provider)
}
