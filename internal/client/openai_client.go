package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps the OpenAI SDK for speech-to-text, chat and text-to-speech.
// Any OpenAI compatible endpoint works via baseURL.
type OpenAIClient struct {
	client *openai.Client
	apiKey string
}

// NewOpenAIClient creates a client for the given key and base URL
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
	}
}

// TranscriptSegment is one timestamped piece of a verbose transcription
type TranscriptSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the verbose_json transcription response
type TranscriptionResult struct {
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// Transcribe runs Whisper over a local audio file
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath, model, language string) (*TranscriptionResult, error) {
	if model == "" {
		model = openai.Whisper1
	}
	log.Printf("[OpenAI] → transcription %s (model=%s, language=%s)", audioPath, model, language)

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	result := &TranscriptionResult{
		Language: resp.Language,
		Duration: resp.Duration,
		Text:     resp.Text,
		Segments: make([]TranscriptSegment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, TranscriptSegment{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return result, nil
}

// ChatCompletion sends a system + user prompt and returns the first answer
func (c *OpenAIClient) ChatCompletion(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Speech renders text to a wav file at outPath
func (c *OpenAIClient) Speech(ctx context.Context, text, voice string, speed float64, outPath string) error {
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          speed,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, resp); err != nil {
		out.Close()
		_ = os.Remove(outPath)
		return fmt.Errorf("failed to write speech: %w", err)
	}
	return out.Close()
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
