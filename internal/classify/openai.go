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
	openaiDefaultModel = "gpt-4o-mini"
	openaiAPIURL       = "https://api.openai.com/v1/chat/completions"

	analysisSystemPrompt = "You are an expert email assistant that analyzes " +
		"emails and provides structured responses."
	replySystemPrompt = "You are a professional email assistant that writes " +
		"clear, concise, and appropriate email responses."
)

// OpenAI calls the chat completions API to analyze messages and draft
// replies.
type OpenAI struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	apiURL      string
	client      *http.Client
}

// NewOpenAI creates an OpenAI-backed classifier.
func NewOpenAI(cfg model.AIConfig) *OpenAI {
	modelName := cfg.Model
	if modelName == "" {
		modelName = openaiDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAI{
		apiKey:      cfg.APIKey,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		apiURL:      openaiAPIURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// Analyze classifies one message via chat completions.
func (o *OpenAI) Analyze(
	ctx context.Context, msg model.Message,
) (model.Analysis, error) {
	text, err := o.complete(ctx, analysisSystemPrompt, buildAnalysisPrompt(msg))
	if err != nil {
		return model.Analysis{}, err
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		return model.Analysis{}, &ClassificationError{
			Provider: "openai",
			Err:      err,
		}
	}
	return analysis, nil
}

// GenerateReply drafts a response body for the message.
func (o *OpenAI) GenerateReply(
	ctx context.Context, msg model.Message, analysis model.Analysis,
) (string, error) {
	text, err := o.complete(ctx, replySystemPrompt, buildReplyPrompt(msg, analysis))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// complete makes a single chat completions request and returns the
// first choice's content.
func (o *OpenAI) complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := openaiRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Messages: []openaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClassificationError{
			Provider: "openai",
			Err:      fmt.Errorf("marshaling request: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, o.apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", &ClassificationError{
			Provider: "openai",
			Err:      fmt.Errorf("creating request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &ClassificationError{
			Provider:  "openai",
			Retryable: true,
			Err:       fmt.Errorf("calling chat completions API: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ClassificationError{
			Provider:  "openai",
			Retryable: true,
			Err:       fmt.Errorf("reading response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := errors.New(strings.TrimSpace(string(respBody)))
		var parsed openaiErrorResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error.Message != "" {
			apiErr = errors.New(parsed.Error.Message)
		}
		return "", &ClassificationError{
			Provider:  "openai",
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       fmt.Errorf("API error (%d): %w", resp.StatusCode, apiErr),
		}
	}

	var result openaiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &ClassificationError{
			Provider: "openai",
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}

	if len(result.Choices) == 0 {
		return "", &ClassificationError{
			Provider: "openai",
			Err:      errors.New("empty model reply"),
		}
	}

	return result.Choices[0].Message.Content, nil
}

// --- chat completions API types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openaiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
