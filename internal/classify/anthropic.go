package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mail-agent/internal/model"
)

const (
	anthropicDefaultModel = "claude-sonnet-4-5-20250929"
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion   = "2023-06-01"

	defaultMaxTokens = 1024
)

// Anthropic calls the Claude Messages API to analyze messages and
// draft replies.
type Anthropic struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	apiURL      string
	client      *http.Client
}

// NewAnthropic creates an Anthropic-backed classifier.
func NewAnthropic(cfg model.AIConfig) *Anthropic {
	modelName := cfg.Model
	if modelName == "" {
		modelName = anthropicDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Anthropic{
		apiKey:      cfg.APIKey,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		apiURL:      anthropicAPIURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// Analyze classifies one message via the Messages API.
func (a *Anthropic) Analyze(
	ctx context.Context, msg model.Message,
) (model.Analysis, error) {
	text, err := a.complete(ctx, buildAnalysisPrompt(msg))
	if err != nil {
		return model.Analysis{}, err
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		return model.Analysis{}, &ClassificationError{
			Provider: "anthropic",
			Err:      err,
		}
	}
	return analysis, nil
}

// GenerateReply drafts a response body for the message.
func (a *Anthropic) GenerateReply(
	ctx context.Context, msg model.Message, analysis model.Analysis,
) (string, error) {
	text, err := a.complete(ctx, buildReplyPrompt(msg, analysis))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// complete makes a single request to the Messages API and returns the
// concatenated text content of the reply.
func (a *Anthropic) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClassificationError{
			Provider: "anthropic",
			Err:      fmt.Errorf("marshaling request: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", &ClassificationError{
			Provider: "anthropic",
			Err:      fmt.Errorf("creating request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &ClassificationError{
			Provider:  "anthropic",
			Retryable: true,
			Err:       fmt.Errorf("calling messages API: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ClassificationError{
			Provider:  "anthropic",
			Retryable: true,
			Err:       fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := errors.New(strings.TrimSpace(string(respBody)))
		var parsed anthropicErrorResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error.Message != "" {
			apiErr = errors.New(parsed.Error.Message)
		}
		return "", &ClassificationError{
			Provider:  "anthropic",
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       fmt.Errorf("API error (%d): %w", resp.StatusCode, apiErr),
		}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &ClassificationError{
			Provider: "anthropic",
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", &ClassificationError{
			Provider: "anthropic",
			Err:      errors.New("empty model reply"),
		}
	}

	return strings.Join(parts, ""), nil
}

// --- Claude API types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
