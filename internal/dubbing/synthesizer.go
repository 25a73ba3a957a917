package dubbing

import (
	"context"

	"github.com/dubstudio/api/internal/model"
)

// Synthesizer renders text as speech into outPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice model.VoiceConfig, outPath string) error
}

type yatingAPI interface {
	SynthesizeToFile(ctx context.Context, text string, voice model.VoiceConfig, outPath string) error
}

// YatingSynthesizer uses the Yating TTS service and its voice profile as is.
type YatingSynthesizer struct {
	api yatingAPI
}

func NewYatingSynthesizer(api yatingAPI) *YatingSynthesizer {
	return &YatingSynthesizer{api: api}
}

func (s *YatingSynthesizer) Synthesize(ctx context.Context, text string, voice model.VoiceConfig, outPath string) error {
	return s.api.SynthesizeToFile(ctx, text, voice, outPath)
}

type speechAPI interface {
	Speech(ctx context.Context, text, voice string, speed float64, outPath string) error
}

// OpenAISynthesizer uses OpenAI TTS. Only the voice's speed carries over; the
// voice name is fixed at construction.
type OpenAISynthesizer struct {
	api   speechAPI
	voice string
}

func NewOpenAISynthesizer(api speechAPI, voice string) *OpenAISynthesizer {
	return &OpenAISynthesizer{api: api, voice: voice}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, voice model.VoiceConfig, outPath string) error {
	// unset speed means normal pace; anything else is clamped to the API range
	speed := 1.0
	if voice.Speed > 0 {
		speed = min(max(voice.Speed, 0.25), 4.0)
	}
	return s.api.Speech(ctx, text, s.voice, speed, outPath)
}
