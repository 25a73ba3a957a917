package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/model"
)

// Yating text types
const (
	YatingTypeText = "text"
	YatingTypeSSML = "ssml"
)

// YatingClient talks to the Yating speech synthesis API
type YatingClient struct {
	httpClient *http.Client
	url        string
	key        string
}

// YatingInput is the text to speak
type YatingInput struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// YatingVoice selects and shapes the voice
type YatingVoice struct {
	Model  string  `json:"model"`
	Speed  float64 `json:"speed"`
	Pitch  float64 `json:"pitch"`
	Energy float64 `json:"energy"`
}

// YatingAudioConfig selects the output encoding
type YatingAudioConfig struct {
	Encoding   string `json:"encoding"`
	SampleRate string `json:"sampleRate"`
}

// YatingRequest represents the synthesis request body
type YatingRequest struct {
	Input       YatingInput       `json:"input"`
	Voice       YatingVoice       `json:"voice"`
	AudioConfig YatingAudioConfig `json:"audioConfig"`
}

// YatingResponse carries base64 encoded audio
type YatingResponse struct {
	AudioContent string `json:"audioContent"`
	AudioConfig  struct {
		Encoding   string `json:"encoding"`
		SampleRate string `json:"sampleRate"`
	} `json:"audioConfig"`
}

// NewYatingClient creates a new Yating TTS client
func NewYatingClient(cfg *config.TTSConfig) *YatingClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &YatingClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url: cfg.URL,
		key: cfg.Key,
	}
}

// Synthesize renders text with the given voice and returns the decoded audio bytes
func (c *YatingClient) Synthesize(ctx context.Context, text string, voice model.VoiceConfig) ([]byte, error) {
	reqBody := YatingRequest{
		Input: YatingInput{Text: text, Type: YatingTypeText},
		Voice: YatingVoice{
			Model:  voice.Voice,
			Speed:  voice.Speed,
			Pitch:  voice.Pitch,
			Energy: voice.Energy,
		},
		AudioConfig: YatingAudioConfig{
			Encoding:   voice.Encoding,
			SampleRate: voice.SampleRate,
		},
	}

	var result YatingResponse
	if err := c.post(ctx, reqBody, &result); err != nil {
		return nil, err
	}
	if result.AudioContent == "" {
		return nil, fmt.Errorf("yating returned no audio content")
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	return audio, nil
}

// SynthesizeToFile renders text and writes the audio to outPath
func (c *YatingClient) SynthesizeToFile(ctx context.Context, text string, voice model.VoiceConfig, outPath string) error {
	audio, err := c.Synthesize(ctx, text, voice)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	return nil
}

func (c *YatingClient) post(ctx context.Context, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("key", c.key)

	log.Printf("[Yating TTS] → POST %s (%d bytes)", c.url, len(bodyBytes))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("yating API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *YatingClient) IsConfigured() bool {
	return c.url != "" && c.key != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
