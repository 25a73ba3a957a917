package dubbing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dubstudio/api/internal/client"
	"github.com/dubstudio/api/internal/media"
	"github.com/dubstudio/api/internal/model"
)

func TestIdentityLocalizer(t *testing.T) {
	text, ok, err := IdentityLocalizer{}.Localize(context.Background(), "  你好  ")
	if err != nil || !ok || text != "你好" {
		t.Fatalf("expected trimmed passthrough, got %q ok=%v err=%v", text, ok, err)
	}
	if _, ok, _ := (IdentityLocalizer{}).Localize(context.Background(), " "); ok {
		t.Error("blank text should be skipped")
	}
}

func TestChatLocalizer(t *testing.T) {
	var gotSystem, gotUser string
	l := NewChatLocalizer(func(_ context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return ` "汝好" `, nil
	}, "Taiwanese Hokkien")

	text, ok, err := l.Localize(context.Background(), " hello ")
	if err != nil || !ok {
		t.Fatalf("Localize: ok=%v err=%v", ok, err)
	}
	if text != "汝好" {
		t.Errorf("expected quotes stripped, got %q", text)
	}
	if gotUser != "hello" || !strings.Contains(gotSystem, "Taiwanese Hokkien") {
		t.Errorf("unexpected prompts %q / %q", gotSystem, gotUser)
	}
}

func TestChatLocalizer_BlankAnswerSkips(t *testing.T) {
	l := NewChatLocalizer(func(context.Context, string, string) (string, error) { return "  ", nil }, "x")
	if _, ok, err := l.Localize(context.Background(), "hello"); ok || err != nil {
		t.Fatalf("expected skip without error, got ok=%v err=%v", ok, err)
	}

	failing := NewChatLocalizer(func(context.Context, string, string) (string, error) {
		return "", errors.New("rate limited")
	}, "x")
	if _, _, err := failing.Localize(context.Background(), "hello"); err == nil {
		t.Fatal("expected the chat error")
	}
}

type stubSpeechToText struct{}

func (stubSpeechToText) Transcribe(_ context.Context, _, _, _ string) (*client.TranscriptionResult, error) {
	return &client.TranscriptionResult{
		Language: "chinese",
		Text:     " 你好 世界 ",
		Segments: []client.TranscriptSegment{
			{ID: 0, Start: 0, End: 1.5, Text: " 你好"},
			{ID: 1, Start: 1.5, End: 3, Text: "世界 "},
		},
	}, nil
}

func TestOpenAITranscriber(t *testing.T) {
	tr, err := NewOpenAITranscriber(stubSpeechToText{}, "whisper-1", "zh").Transcribe(context.Background(), "audio.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Segments) != 2 || tr.Segments[1].Index != 1 || tr.Segments[1].SourceText != "世界" {
		t.Fatalf("unexpected segments %+v", tr.Segments)
	}
	if tr.Text != "你好 世界" || len(tr.Raw) == 0 {
		t.Errorf("unexpected transcript %+v", tr)
	}
}

func TestWhisperCLITranscriber(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")

	var gotArgs []string
	runner := media.RunnerFunc(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "python3" {
			t.Errorf("unexpected command %s", name)
		}
		gotArgs = args
		out := `{"text":"hi","language":"zh","segments":[{"id":0,"start":0.2,"end":1.4,"text":" hi "}]}`
		return nil, os.WriteFile(filepath.Join(dir, "whisper", "audio.json"), []byte(out), 0o644)
	})

	tr, err := NewWhisperCLITranscriber(runner, "python3", "small", "zh").Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].SourceText != "hi" || tr.Segments[0].EndTime != 1.4 {
		t.Fatalf("unexpected segments %+v", tr.Segments)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-m whisper", "--model small", "--output_format json", "--language zh"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestWhisperCLITranscriber_CommandFails(t *testing.T) {
	runner := media.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	_, err := NewWhisperCLITranscriber(runner, "", "", "").Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"))
	if err == nil {
		t.Fatal("expected an error")
	}
}

type recordingSpeech struct {
	voice string
	speed float64
}

func (r *recordingSpeech) Speech(_ context.Context, _, voice string, speed float64, _ string) error {
	r.voice, r.speed = voice, speed
	return nil
}

func TestOpenAISynthesizer_ClampsSpeed(t *testing.T) {
	api := &recordingSpeech{}
	s := NewOpenAISynthesizer(api, "alloy")

	tests := []struct {
		name  string
		speed float64
		want  float64
	}{
		{"in range", 0.75, 0.75},
		{"unset", 0, 1},
		{"negative", -2, 1},
		{"too slow", 0.1, 0.25},
		{"too fast", 10, 4},
		{"upper bound", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Synthesize(context.Background(), "hi", model.VoiceConfig{Speed: tt.speed}, "out.wav"); err != nil {
				t.Fatal(err)
			}
			if api.voice != "alloy" || api.speed != tt.want {
				t.Errorf("speed %v: got voice=%s speed=%v, want speed %v", tt.speed, api.voice, api.speed, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	err := stageErr(model.JobStatusCombining, ErrMux, "Failed to create output video", errors.New("exit 1"))
	if UserMessage(err) != "Failed to create output video" {
		t.Errorf("unexpected message %q", UserMessage(err))
	}
	if !errors.Is(err, ErrMux) {
		t.Error("stage error should match its kind")
	}
	if UserMessage(errors.New("plain")) != "plain" {
		t.Error("plain errors should pass through")
	}
}
