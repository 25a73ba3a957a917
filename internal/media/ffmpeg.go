package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dubstudio/api/internal/config"
)

// FFmpeg runs the extraction, resampling and remux steps of a dubbing job.
type FFmpeg struct {
	cfg    config.MediaConfig
	runner Runner
}

// NewFFmpeg creates a wrapper using the configured binaries. A nil runner
// executes real processes.
func NewFFmpeg(cfg config.MediaConfig, runner Runner) *FFmpeg {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	return &FFmpeg{cfg: cfg, runner: runner}
}

// ExtractAudio writes the source's audio as mono 16-bit PCM at the extraction rate.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	rate := f.cfg.ExtractSampleRate
	if rate <= 0 {
		rate = 16000
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-y", outPath,
	}
	if _, err := f.runner.Run(ctx, f.cfg.FFmpeg, args...); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return requireFile(outPath)
}

// ConvertForMix resamples any audio file to 16-bit PCM wav at the mix rate.
// channels <= 0 keeps the input's channel layout.
func (f *FFmpeg) ConvertForMix(ctx context.Context, inPath, outPath string, channels int) error {
	rate := f.cfg.MixSampleRate
	if rate <= 0 {
		rate = 44100
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(rate),
	}
	if channels > 0 {
		args = append(args, "-ac", strconv.Itoa(channels))
	}
	args = append(args, "-y", outPath)

	if _, err := f.runner.Run(ctx, f.cfg.FFmpeg, args...); err != nil {
		return fmt.Errorf("convert %s: %w", filepath.Base(inPath), err)
	}
	return requireFile(outPath)
}

// MuxRequest describes the inputs for the final remux.
type MuxRequest struct {
	VideoPath  string  // source video; only its first video stream is used
	AudioPath  string  // composed track
	OutputPath string  // final container
	Duration   float64 // output is cut at this many seconds
	FrameRate  float64 // passed through as -r when known
}

// Mux combines the original frames with the composed audio. Output goes to a
// hidden temp file next to OutputPath and is renamed into place on success.
func (f *FFmpeg) Mux(ctx context.Context, req MuxRequest) (string, error) {
	if strings.TrimSpace(req.VideoPath) == "" || strings.TrimSpace(req.AudioPath) == "" {
		return "", fmt.Errorf("mux: video and audio paths are required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return "", fmt.Errorf("mux: output path is required")
	}
	for _, p := range []string{req.VideoPath, req.AudioPath} {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("mux: input not found: %w", err)
		}
	}

	dir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mux: create output dir: %w", err)
	}
	base := filepath.Base(req.OutputPath)
	tmpPath := filepath.Join(dir, ".mux-"+strings.TrimSuffix(base, filepath.Ext(base))+".tmp"+filepath.Ext(base))

	args := f.buildMuxArgs(req, tmpPath)
	log.Printf("[FFmpeg] Muxing %s + %s -> %s", filepath.Base(req.VideoPath), filepath.Base(req.AudioPath), base)

	if _, err := f.runner.Run(ctx, f.cfg.FFmpeg, args...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("mux: %w", err)
	}

	if err := requireFile(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("mux: %w", err)
	}

	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("mux: finalize output: %w", err)
	}
	return req.OutputPath, nil
}

func (f *FFmpeg) buildMuxArgs(req MuxRequest, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", req.VideoPath,
		"-i", req.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", orDefault(f.cfg.VideoCodec, "libx264"),
	}
	if f.cfg.VideoPreset != "" {
		args = append(args, "-preset", f.cfg.VideoPreset)
	}
	if f.cfg.VideoBitrate != "" {
		args = append(args, "-b:v", f.cfg.VideoBitrate)
	}
	if f.cfg.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(f.cfg.Threads))
	}
	args = append(args, "-c:a", orDefault(f.cfg.AudioCodec, "aac"))
	if f.cfg.AudioBitrate != "" {
		args = append(args, "-b:a", f.cfg.AudioBitrate)
	}
	if req.FrameRate > 0 {
		args = append(args, "-r", strconv.FormatFloat(req.FrameRate, 'f', 3, 64))
	}
	if req.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(req.Duration, 'f', 3, 64))
	}
	args = append(args, "-movflags", "+faststart", "-y", outPath)
	return args
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("expected output %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("expected output %s is empty", filepath.Base(path))
	}
	return nil
}
