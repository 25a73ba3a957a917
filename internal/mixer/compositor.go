// Package mixer builds the dubbed audio track: a looping ambient bed with
// synthesized speech placed at each segment's start time.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"path/filepath"

	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/model"
)

var (
	ErrNoClips       = errors.New("no clips to compose")
	ErrInvalidFormat = errors.New("unsupported audio format")
)

const outputChannels = 2

// Request describes one composition. All inputs must already be 16-bit PCM
// wav at the compositor's sample rate.
type Request struct {
	Duration    float64 // seconds; the output is exactly this long
	AmbientPath string  // optional; silence when empty
	Clips       []model.SynthesizedClip
	OutputPath  string
}

// Result summarizes what was written.
type Result struct {
	Frames       int
	Duration     float64
	AmbientTiles int
	PlacedClips  int
	SkippedClips int
}

// Compositor mixes additively without normalization; only the final encode
// saturates to the 16-bit range.
type Compositor struct {
	sampleRate  int
	ambientGain float64
	voiceGain   float64
}

func NewCompositor(cfg config.MixConfig, sampleRate int) (*Compositor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if cfg.AmbientGain <= 1 {
		return nil, fmt.Errorf("ambient gain must be greater than 1, got %v", cfg.AmbientGain)
	}
	if cfg.VoiceGain <= 0 || cfg.VoiceGain >= 1 {
		return nil, fmt.Errorf("voice gain must be between 0 and 1, got %v", cfg.VoiceGain)
	}
	return &Compositor{
		sampleRate:  sampleRate,
		ambientGain: cfg.AmbientGain,
		voiceGain:   cfg.VoiceGain,
	}, nil
}

// SampleRate is the rate every input must be converted to.
func (c *Compositor) SampleRate() int {
	return c.sampleRate
}

func (c *Compositor) Compose(ctx context.Context, req Request) (Result, error) {
	if req.Duration <= 0 || math.IsNaN(req.Duration) {
		return Result{}, fmt.Errorf("duration must be positive, got %v", req.Duration)
	}
	if len(req.Clips) == 0 {
		return Result{}, ErrNoClips
	}
	if req.OutputPath == "" {
		return Result{}, errors.New("output path is required")
	}

	frames := int(math.Round(req.Duration * float64(c.sampleRate)))
	if frames <= 0 {
		return Result{}, fmt.Errorf("duration %v is shorter than one sample", req.Duration)
	}
	track := make([]float64, frames*outputChannels)
	res := Result{Frames: frames, Duration: float64(frames) / float64(c.sampleRate)}

	if req.AmbientPath != "" {
		tiles, err := c.layAmbient(track, frames, req.AmbientPath)
		if err != nil {
			return Result{}, err
		}
		res.AmbientTiles = tiles
	}

	for _, clip := range req.Clips {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		placed, err := c.placeClip(track, frames, clip)
		if err != nil {
			log.Printf("[Mixer] Skipping clip for segment %d: %v", clip.SegmentIndex, err)
			res.SkippedClips++
			continue
		}
		if !placed {
			res.SkippedClips++
			continue
		}
		res.PlacedClips++
	}

	if res.PlacedClips == 0 {
		return Result{}, fmt.Errorf("%w: all %d clips were unusable", ErrNoClips, len(req.Clips))
	}

	if err := writeStereo16(req.OutputPath, c.sampleRate, track); err != nil {
		return Result{}, err
	}

	log.Printf("[Mixer] Wrote %s: %.3fs, %d ambient tiles, %d clips (%d skipped)",
		filepath.Base(req.OutputPath), res.Duration, res.AmbientTiles, res.PlacedClips, res.SkippedClips)
	return res, nil
}

// layAmbient tiles the ambient bed at offsets 0, A, 2A, ... and cuts the last
// tile at the end of the track.
func (c *Compositor) layAmbient(track []float64, frames int, path string) (int, error) {
	amb, err := readPCM(path)
	if err != nil {
		return 0, fmt.Errorf("ambient: %w", err)
	}
	if amb.SampleRate != c.sampleRate {
		return 0, fmt.Errorf("ambient: %w: %d Hz, want %d Hz", ErrInvalidFormat, amb.SampleRate, c.sampleRate)
	}
	if amb.Channels != 1 && amb.Channels != outputChannels {
		return 0, fmt.Errorf("ambient: %w: %d channels", ErrInvalidFormat, amb.Channels)
	}
	length := amb.frames()
	if length == 0 {
		return 0, nil
	}

	tiles := 0
	for offset := 0; offset < frames; offset += length {
		n := min(length, frames-offset)
		mixInto(track, offset, amb, n, c.ambientGain)
		tiles++
	}
	return tiles, nil
}

// placeClip adds one clip at its start time, truncated to the segment span
// and to the track end.
func (c *Compositor) placeClip(track []float64, frames int, clip model.SynthesizedClip) (bool, error) {
	if clip.EndTime <= clip.StartTime || clip.StartTime < 0 {
		return false, fmt.Errorf("invalid span %.3f-%.3f", clip.StartTime, clip.EndTime)
	}
	p, err := readPCM(clip.AudioPath)
	if err != nil {
		return false, err
	}
	if p.SampleRate != c.sampleRate {
		return false, fmt.Errorf("%w: %d Hz, want %d Hz", ErrInvalidFormat, p.SampleRate, c.sampleRate)
	}
	if p.Channels != 1 && p.Channels != outputChannels {
		return false, fmt.Errorf("%w: %d channels", ErrInvalidFormat, p.Channels)
	}

	start := int(math.Round(clip.StartTime * float64(c.sampleRate)))
	if start >= frames {
		return false, nil
	}
	span := int(math.Round((clip.EndTime - clip.StartTime) * float64(c.sampleRate)))
	n := min(p.frames(), span, frames-start)
	if n <= 0 {
		return false, nil
	}
	mixInto(track, start, p, n, c.voiceGain)
	return true, nil
}

// mixInto adds n frames of src, scaled by gain, at frame offset. Mono sources
// are duplicated into both output channels.
func mixInto(track []float64, offset int, src pcm, n int, gain float64) {
	for i := 0; i < n; i++ {
		dst := (offset + i) * outputChannels
		if src.Channels == 1 {
			v := src.Samples[i] * gain
			track[dst] += v
			track[dst+1] += v
			continue
		}
		s := i * outputChannels
		track[dst] += src.Samples[s] * gain
		track[dst+1] += src.Samples[s+1] * gain
	}
}
