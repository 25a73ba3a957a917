package dubbing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dubstudio/api/internal/client"
	"github.com/dubstudio/api/internal/media"
	"github.com/dubstudio/api/internal/model"
)

// Transcript is the ordered speech found in an audio file. Raw holds the
// provider's structured output as returned.
type Transcript struct {
	Language string
	Text     string
	Segments []model.Segment
	Raw      []byte
}

// Transcriber turns an audio file into timestamped segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

type speechToText interface {
	Transcribe(ctx context.Context, audioPath, model, language string) (*client.TranscriptionResult, error)
}

// OpenAITranscriber uses the Whisper API.
type OpenAITranscriber struct {
	api      speechToText
	model    string
	language string
}

func NewOpenAITranscriber(api speechToText, model, language string) *OpenAITranscriber {
	return &OpenAITranscriber{api: api, model: model, language: language}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	res, err := t.api.Transcribe(ctx, audioPath, t.model, t.language)
	if err != nil {
		return Transcript{}, err
	}
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to encode transcript: %w", err)
	}

	segments := make([]model.Segment, 0, len(res.Segments))
	for i, s := range res.Segments {
		segments = append(segments, model.Segment{
			Index:      i,
			StartTime:  s.Start,
			EndTime:    s.End,
			SourceText: strings.TrimSpace(s.Text),
		})
	}
	return Transcript{
		Language: res.Language,
		Text:     strings.TrimSpace(res.Text),
		Segments: segments,
		Raw:      raw,
	}, nil
}

// whisperOutput is the JSON written by `python -m whisper --output_format json`.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// WhisperCLITranscriber runs the open-source Whisper command line locally.
type WhisperCLITranscriber struct {
	runner   media.Runner
	command  string
	model    string
	language string
}

func NewWhisperCLITranscriber(runner media.Runner, command, model, language string) *WhisperCLITranscriber {
	if runner == nil {
		runner = media.ExecRunner{}
	}
	if command == "" {
		command = "python"
	}
	if model == "" {
		model = "base"
	}
	return &WhisperCLITranscriber{runner: runner, command: command, model: model, language: language}
}

func (t *WhisperCLITranscriber) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	outDir := filepath.Join(filepath.Dir(audioPath), "whisper")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Transcript{}, fmt.Errorf("failed to create whisper output dir: %w", err)
	}

	args := []string{"-m", "whisper", audioPath,
		"--model", t.model,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if t.language != "" {
		args = append(args, "--language", t.language)
	}

	log.Printf("[Whisper] Transcribing %s (model=%s)", filepath.Base(audioPath), t.model)
	if _, err := t.runner.Run(ctx, t.command, args...); err != nil {
		return Transcript{}, fmt.Errorf("whisper transcription failed: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	raw, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to read whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	segments := make([]model.Segment, 0, len(out.Segments))
	for i, s := range out.Segments {
		segments = append(segments, model.Segment{
			Index:      i,
			StartTime:  s.Start,
			EndTime:    s.End,
			SourceText: strings.TrimSpace(s.Text),
		})
	}
	return Transcript{
		Language: out.Language,
		Text:     strings.TrimSpace(out.Text),
		Segments: segments,
		Raw:      raw,
	}, nil
}
