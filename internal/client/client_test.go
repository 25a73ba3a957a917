package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/model"
)

func defaultVoice() model.VoiceConfig {
	return model.VoiceConfig{
		Voice:      "tai_female_2",
		Speed:      0.75,
		Pitch:      1.3,
		Energy:     1.5,
		Encoding:   "LINEAR16",
		SampleRate: "16K",
	}
}

func TestYatingClient_SynthesizeToFile(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt ")
	var got YatingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"audioContent": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer srv.Close()

	c := NewYatingClient(&config.TTSConfig{URL: srv.URL, Key: "secret", Timeout: 5})
	if !c.IsConfigured() {
		t.Fatal("expected client to be configured")
	}

	out := filepath.Join(t.TempDir(), "segment_0.wav")
	if err := c.SynthesizeToFile(context.Background(), "你好", defaultVoice(), out); err != nil {
		t.Fatalf("SynthesizeToFile: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(audio) {
		t.Errorf("unexpected audio bytes %q", data)
	}
	if got.Input.Text != "你好" || got.Input.Type != YatingTypeText {
		t.Errorf("unexpected input: %+v", got.Input)
	}
	if got.Voice.Model != "tai_female_2" || got.Voice.Speed != 0.75 || got.Voice.Pitch != 1.3 || got.Voice.Energy != 1.5 {
		t.Errorf("unexpected voice: %+v", got.Voice)
	}
	if got.AudioConfig.Encoding != "LINEAR16" || got.AudioConfig.SampleRate != "16K" {
		t.Errorf("unexpected audio config: %+v", got.AudioConfig)
	}
}

func TestYatingClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		case "/empty":
			w.Write([]byte(`{"audioContent":""}`))
		default:
			w.Write([]byte(`{"audioContent":"!!!not-base64"}`))
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/fail", "/empty", "/garbage"} {
		c := NewYatingClient(&config.TTSConfig{URL: srv.URL + path, Key: "k", Timeout: 5})
		if _, err := c.Synthesize(context.Background(), "text", defaultVoice()); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}
}

func TestGroqClient_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gsk" {
			t.Errorf("missing bearer token")
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "llama" || req["n"] != float64(1) {
			t.Errorf("unexpected request %v", req)
		}
		// temperature must be sent even at zero
		if temp, ok := req["temperature"]; !ok || temp != float64(0) {
			t.Errorf("expected temperature 0, got %v (present=%v)", temp, ok)
		}
		if req["max_tokens"] != float64(minTranslationTokens) {
			t.Errorf("expected max_tokens %d for a short line, got %v", minTranslationTokens, req["max_tokens"])
		}
		msgs, _ := req["messages"].([]interface{})
		if len(msgs) != 2 {
			t.Fatalf("unexpected messages: %v", req["messages"])
		}
		if m, _ := msgs[0].(map[string]interface{}); m["role"] != "system" || m["content"] != "translate" {
			t.Errorf("unexpected system message %v", m)
		}
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"lí-hó"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{APIKey: "gsk", BaseURL: srv.URL + "/", Model: "llama"}, 0)
	got, err := c.Translate(context.Background(), "translate", "你好")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "lí-hó" {
		t.Errorf("unexpected answer %q", got)
	}
}

func TestGroqClient_TranslateTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"half a sen"},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{APIKey: "gsk", BaseURL: srv.URL, Model: "llama"}, time.Second)
	if _, err := c.Translate(context.Background(), "translate", "你好"); !errors.Is(err, ErrTranslationTruncated) {
		t.Errorf("expected ErrTranslationTruncated, got %v", err)
	}
}

func TestGroqClient_TranslateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{APIKey: "gsk", BaseURL: srv.URL, Model: "llama"}, time.Second)
	_, err := c.Translate(context.Background(), "translate", "你好")
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Errorf("expected status 429 error, got %v", err)
	}
}

func TestTokenBudget(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", minTranslationTokens},
		{"你好", minTranslationTokens},
		{strings.Repeat("字", 40), 160},
		{strings.Repeat("字", 1000), maxTranslationTokens},
	}
	for _, tt := range tests {
		if got := tokenBudget(tt.text); got != tt.want {
			t.Errorf("tokenBudget(%d runes) = %d, want %d", len([]rune(tt.text)), got, tt.want)
		}
	}
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		if r.FormValue("response_format") != "verbose_json" || r.FormValue("language") != "zh" {
			t.Errorf("unexpected form: %v", r.MultipartForm.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"task": "transcribe", "language": "chinese", "duration": 4.2, "text": "你好 世界",
			"segments": [
				{"id": 0, "start": 0.0, "end": 1.5, "text": "你好"},
				{"id": 1, "start": 2.0, "end": 4.2, "text": "世界"}
			]
		}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.wav")
	os.WriteFile(audio, []byte("RIFF"), 0o644)

	c := NewOpenAIClient("sk-test", srv.URL)
	res, err := c.Transcribe(context.Background(), audio, "", "zh")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(res.Segments))
	}
	if res.Segments[1].Start != 2.0 || res.Segments[1].End != 4.2 || res.Segments[1].Text != "世界" {
		t.Errorf("unexpected segment: %+v", res.Segments[1])
	}
}

func TestOpenAIClient_ChatAndSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"translated"},"finish_reason":"stop"}]}`))
		case "/audio/speech":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"response_format":"wav"`) {
				t.Errorf("expected wav format, got %s", body)
			}
			w.Header().Set("Content-Type", "audio/wav")
			w.Write([]byte("RIFFDATA"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)

	got, err := c.ChatCompletion(context.Background(), "gpt-4o-mini", "system", "user")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got != "translated" {
		t.Errorf("unexpected answer %q", got)
	}

	out := filepath.Join(t.TempDir(), "speech.wav")
	if err := c.Speech(context.Background(), "hello", "nova", 1.0, out); err != nil {
		t.Fatalf("Speech: %v", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "RIFFDATA" {
		t.Errorf("unexpected speech bytes %q", data)
	}
}
