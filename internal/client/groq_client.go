package client

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
	"unicode/utf8"

	"github.com/dubstudio/api/internal/config"
)

// Token budget for one translated segment. Subtitle-sized lines rarely need
// more than a few tokens per source rune.
const (
	minTranslationTokens   = 64
	maxTranslationTokens   = 512
	tokensPerSourceRune    = 4
	translationTemperature = 0
)

// ErrTranslationTruncated is returned when the model hit the token cap
// before finishing the line.
var ErrTranslationTruncated = errors.New("translation truncated at token limit")

// GroqClient translates transcript segments through Groq's
// OpenAI-compatible chat endpoint.
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type translationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranslationRequest is the chat completion body sent for one segment.
type TranslationRequest struct {
	Model       string               `json:"model"`
	Messages    []translationMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	N           int                  `json:"n"`
}

type translationResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewGroqClient creates a Groq client. A zero timeout falls back to 60s.
func NewGroqClient(cfg *config.GroqConfig, timeout time.Duration) *GroqClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GroqClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// tokenBudget sizes max_tokens from the source line.
func tokenBudget(text string) int {
	return min(max(utf8.RuneCountInString(text)*tokensPerSourceRune, minTranslationTokens), maxTranslationTokens)
}

// Translate sends one segment with the localizer's instructions and returns
// the model's answer as is.
func (c *GroqClient) Translate(ctx context.Context, instructions, text string) (string, error) {
	reqBody := TranslationRequest{
		Model: c.model,
		Messages: []translationMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: text},
		},
		Temperature: translationTemperature,
		MaxTokens:   tokenBudget(text),
		N:           1,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var out translationResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	choice := out.Choices[0]
	if choice.FinishReason == "length" {
		return "", fmt.Errorf("%w (%d tokens)", ErrTranslationTruncated, reqBody.MaxTokens)
	}
	return choice.Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
