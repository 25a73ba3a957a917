package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe JSON the pipeline needs.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Info describes the video timeline the dubbed track must match.
type Info struct {
	Duration  float64
	FrameRate float64
	Width     int
	Height    int
	HasAudio  bool
}

// Probe runs ffprobe against path and summarizes the first video stream.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, errors.New("ffprobe: empty path")
	}

	out, err := f.runner.Run(ctx, f.cfg.FFprobe,
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result.Info()
}

// Info extracts duration, frame rate and resolution.
func (r ProbeResult) Info() (Info, error) {
	var info Info
	var video *ProbeStream
	for i := range r.Streams {
		s := &r.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return Info{}, errors.New("ffprobe: no video stream")
	}

	info.Width = video.Width
	info.Height = video.Height
	info.FrameRate = parseRate(video.RFrameRate)
	if !(info.FrameRate > 0) {
		info.FrameRate = parseRate(video.AvgFrameRate)
	}

	info.Duration = parseFloat(r.Format.Duration)
	if !(info.Duration > 0) {
		info.Duration = parseFloat(video.Duration)
	}
	if !(info.Duration > 0) {
		return Info{}, errors.New("ffprobe: unknown duration")
	}
	return info, nil
}

// parseRate understands ffprobe's "30000/1001" notation.
func parseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, ok := strings.Cut(value, "/")
	if !ok {
		return parseFloat(value)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
