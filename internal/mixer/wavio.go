package mixer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// pcm is a decoded wav file with samples rescaled to the 16-bit range.
type pcm struct {
	SampleRate int
	Channels   int
	Samples    []float64 // interleaved
}

func (p pcm) frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func readPCM(path string) (pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return pcm{}, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return pcm{}, fmt.Errorf("decode %s: missing format", path)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	scale := 1.0
	if bitDepth > 0 && bitDepth != 16 {
		scale = math.Pow(2, float64(16-bitDepth))
	}

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) * scale
	}
	return pcm{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

// writeStereo16 encodes interleaved stereo samples, saturating to int16.
func writeStereo16(path string, sampleRate int, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = saturate16(v)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	werr := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 2},
		SourceBitDepth: 16,
	})
	cerr := enc.Close()
	ferr := f.Close()
	if err := errors.Join(werr, cerr, ferr); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func saturate16(v float64) int {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int(r)
}

// WavDuration returns the playback length of a wav file.
func WavDuration(path string) (time.Duration, error) {
	p, err := readPCM(path)
	if err != nil {
		return 0, err
	}
	if p.SampleRate <= 0 {
		return 0, fmt.Errorf("%s: %w: sample rate %d", path, ErrInvalidFormat, p.SampleRate)
	}
	seconds := float64(p.frames()) / float64(p.SampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
