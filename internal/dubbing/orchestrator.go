// Package dubbing runs one video through extraction, transcription,
// per-segment synthesis, composition and remux.
package dubbing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dubstudio/api/internal/media"
	"github.com/dubstudio/api/internal/mixer"
	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/status"
	"github.com/samber/lo"
)

// Progress checkpoints
const (
	progressProcessing   = 0
	progressTranscribing = 20
	progressSynthesizing = 40
	progressCombining    = 60
	progressComposed     = 80
	progressCompleted    = 100
)

// Workspace file names
const (
	audioFile      = "audio.wav"
	transcriptFile = "transcript.json"
	ambientFile    = "ambient.wav"
	mixFile        = "mix.wav"
)

// MediaTools is the ffmpeg/ffprobe surface the pipeline needs.
type MediaTools interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	ConvertForMix(ctx context.Context, inPath, outPath string, channels int) error
	Mux(ctx context.Context, req media.MuxRequest) (string, error)
}

type Compositor interface {
	Compose(ctx context.Context, req mixer.Request) (mixer.Result, error)
}

type Workspaces interface {
	Acquire(jobID string) (string, error)
	Release(jobID string) error
}

// Recorder keeps a summary of finished jobs.
type Recorder interface {
	Record(ctx context.Context, entry model.JobHistoryEntry) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Tracker     status.Tracker
	Workspaces  Workspaces
	Media       MediaTools
	Transcriber Transcriber
	Localizer   Localizer
	Synthesizer Synthesizer
	Compositor  Compositor
	Recorder    Recorder // optional
}

// Options are the fixed per-deployment settings.
type Options struct {
	Voice             model.VoiceConfig
	AmbientPath       string
	ResultDir         string
	TranscribeTimeout time.Duration
	LocalizeTimeout   time.Duration
	SynthesizeTimeout time.Duration
	ClipDuration      func(path string) (time.Duration, error)
}

type Orchestrator struct {
	deps Deps
	opts Options
}

func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Tracker == nil:
		return nil, errors.New("orchestrator: tracker is required")
	case deps.Workspaces == nil:
		return nil, errors.New("orchestrator: workspaces are required")
	case deps.Media == nil:
		return nil, errors.New("orchestrator: media tools are required")
	case deps.Transcriber == nil:
		return nil, errors.New("orchestrator: transcriber is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator: synthesizer is required")
	case deps.Compositor == nil:
		return nil, errors.New("orchestrator: compositor is required")
	}
	if deps.Localizer == nil {
		deps.Localizer = IdentityLocalizer{}
	}
	if opts.ResultDir == "" {
		return nil, errors.New("orchestrator: result dir is required")
	}
	if opts.ClipDuration == nil {
		opts.ClipDuration = mixer.WavDuration
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// ResultPath is where a job's output video lands.
func (o *Orchestrator) ResultPath(jobID string) string {
	return filepath.Join(o.opts.ResultDir, jobID+".mp4")
}

// run carries the state of one execution.
type run struct {
	jobID    string
	source   string
	stage    model.JobStatus
	progress int
	dir      string
	segments int
	clips    int
	duration float64
}

// Run executes the pipeline for a job that is already queued in the tracker.
// The workspace is always released before the terminal status is written.
func (o *Orchestrator) Run(ctx context.Context, videoPath, jobID string) (outputPath string, err error) {
	r := &run{jobID: jobID, source: filepath.Base(videoPath), stage: model.JobStatusQueued}
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Orchestrator] Job %s panicked during %s: %v", jobID, r.stage, p)
			outputPath = ""
			err = stageErr(r.stage, nil, fmt.Sprintf("Internal error during %s", r.stage), fmt.Errorf("panic: %v", p))
		}
		o.finish(ctx, r, outputPath, err, time.Since(started))
	}()

	o.advance(ctx, r, model.JobStatusProcessing, progressProcessing)

	dir, err := o.deps.Workspaces.Acquire(jobID)
	if err != nil {
		return "", stageErr(model.JobStatusProcessing, ErrExtraction, "Failed to prepare workspace", err)
	}
	r.dir = dir
	defer o.release(jobID)

	info, err := o.extract(ctx, r, videoPath)
	if err != nil {
		return "", err
	}
	r.duration = info.Duration
	o.advance(ctx, r, model.JobStatusTranscribing, progressTranscribing)

	segments, err := o.transcribe(ctx, r)
	if err != nil {
		return "", err
	}
	o.advance(ctx, r, model.JobStatusSynthesizing, progressSynthesizing)

	clips := o.synthesize(ctx, r, segments)
	r.clips = len(clips)
	o.advance(ctx, r, model.JobStatusCombining, progressCombining)

	if ctx.Err() != nil {
		return "", stageErr(model.JobStatusCombining, ErrComposition, "Job timed out", ctx.Err())
	}
	if len(clips) == 0 {
		return "", stageErr(model.JobStatusCombining, ErrComposition, "No segments could be synthesized", nil)
	}

	mixPath, err := o.compose(ctx, r, info, clips)
	if err != nil {
		return "", err
	}
	o.advance(ctx, r, model.JobStatusCombining, progressComposed)

	out, err := o.deps.Media.Mux(ctx, media.MuxRequest{
		VideoPath:  videoPath,
		AudioPath:  mixPath,
		OutputPath: o.ResultPath(jobID),
		Duration:   info.Duration,
		FrameRate:  info.FrameRate,
	})
	if err != nil {
		return "", stageErr(model.JobStatusCombining, ErrMux, "Failed to create output video", err)
	}
	return out, nil
}

func (o *Orchestrator) extract(ctx context.Context, r *run, videoPath string) (media.Info, error) {
	info, err := o.deps.Media.Probe(ctx, videoPath)
	if err != nil {
		return media.Info{}, stageErr(model.JobStatusProcessing, ErrExtraction, "Failed to read video metadata", err)
	}
	if err := o.deps.Media.ExtractAudio(ctx, videoPath, filepath.Join(r.dir, audioFile)); err != nil {
		return media.Info{}, stageErr(model.JobStatusProcessing, ErrExtraction, "Failed to extract audio", err)
	}
	log.Printf("[Orchestrator] Job %s: extracted audio (%.2fs @ %.3f fps)", r.jobID, info.Duration, info.FrameRate)
	return info, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, r *run) ([]model.Segment, error) {
	tctx, cancel := withTimeout(ctx, o.opts.TranscribeTimeout)
	defer cancel()

	transcript, err := o.deps.Transcriber.Transcribe(tctx, filepath.Join(r.dir, audioFile))
	if err != nil {
		return nil, stageErr(model.JobStatusTranscribing, ErrTranscription, "Transcription failed", err)
	}
	if len(transcript.Raw) > 0 {
		if err := os.WriteFile(filepath.Join(r.dir, transcriptFile), transcript.Raw, 0o644); err != nil {
			log.Printf("[Orchestrator] Job %s: failed to save transcript: %v", r.jobID, err)
		}
	}

	usable := lo.Filter(transcript.Segments, func(s model.Segment, _ int) bool {
		if !s.Valid() || strings.TrimSpace(s.SourceText) == "" {
			log.Printf("[Orchestrator] Job %s: skipping segment %d (%.2f-%.2f %q)", r.jobID, s.Index, s.StartTime, s.EndTime, s.SourceText)
			return false
		}
		return true
	})
	r.segments = len(usable)
	if len(usable) == 0 {
		return nil, stageErr(model.JobStatusTranscribing, ErrTranscription, "Transcription returned no segments", nil)
	}
	log.Printf("[Orchestrator] Job %s: %d segments (%d usable)", r.jobID, len(transcript.Segments), len(usable))
	return usable, nil
}

// synthesize renders every segment in order. Failures are logged and the
// segment is left out of the mix.
func (o *Orchestrator) synthesize(ctx context.Context, r *run, segments []model.Segment) []model.SynthesizedClip {
	clips := make([]model.SynthesizedClip, 0, len(segments))
	span := progressCombining - progressSynthesizing

	for i, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		clip, err := o.synthesizeSegment(ctx, r, seg)
		if err != nil {
			log.Printf("[Orchestrator] Job %s: segment %d skipped: %v", r.jobID, seg.Index, err)
		} else {
			clips = append(clips, clip)
		}
		o.advance(ctx, r, model.JobStatusSynthesizing, progressSynthesizing+span*(i+1)/len(segments))
	}
	return clips
}

func (o *Orchestrator) synthesizeSegment(ctx context.Context, r *run, seg model.Segment) (model.SynthesizedClip, error) {
	lctx, cancel := withTimeout(ctx, o.opts.LocalizeTimeout)
	text, ok, err := o.deps.Localizer.Localize(lctx, seg.SourceText)
	cancel()
	if err != nil {
		return model.SynthesizedClip{}, fmt.Errorf("%w: %w", ErrLocalizationSkip, err)
	}
	if !ok {
		return model.SynthesizedClip{}, ErrLocalizationSkip
	}

	rawPath := filepath.Join(r.dir, fmt.Sprintf("segment_%d.wav", seg.Index))
	sctx, cancel := withTimeout(ctx, o.opts.SynthesizeTimeout)
	err = o.deps.Synthesizer.Synthesize(sctx, text, o.opts.Voice, rawPath)
	cancel()
	if err != nil {
		return model.SynthesizedClip{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	mixPath := filepath.Join(r.dir, fmt.Sprintf("segment_%d.mix.wav", seg.Index))
	if err := o.deps.Media.ConvertForMix(ctx, rawPath, mixPath, 0); err != nil {
		return model.SynthesizedClip{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	d, err := o.opts.ClipDuration(mixPath)
	if err != nil {
		return model.SynthesizedClip{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if limit := seg.Span(); d.Seconds() > limit {
		log.Printf("[Orchestrator] Job %s: segment %d clip %.2fs exceeds %.2fs slot, truncating", r.jobID, seg.Index, d.Seconds(), limit)
	}

	return model.SynthesizedClip{
		SegmentIndex: seg.Index,
		AudioPath:    mixPath,
		StartTime:    seg.StartTime,
		EndTime:      seg.EndTime,
		ClipDuration: d.Seconds(),
	}, nil
}

func (o *Orchestrator) compose(ctx context.Context, r *run, info media.Info, clips []model.SynthesizedClip) (string, error) {
	ambient := ""
	if o.opts.AmbientPath != "" {
		ambient = filepath.Join(r.dir, ambientFile)
		if err := o.deps.Media.ConvertForMix(ctx, o.opts.AmbientPath, ambient, 2); err != nil {
			return "", stageErr(model.JobStatusCombining, ErrComposition, "Failed to prepare background audio", err)
		}
	}

	mixPath := filepath.Join(r.dir, mixFile)
	res, err := o.deps.Compositor.Compose(ctx, mixer.Request{
		Duration:    info.Duration,
		AmbientPath: ambient,
		Clips:       clips,
		OutputPath:  mixPath,
	})
	if err != nil {
		return "", stageErr(model.JobStatusCombining, ErrComposition, "Failed to combine audio", err)
	}
	r.clips = res.PlacedClips
	return mixPath, nil
}

// advance records a stage change or a progress bump within the current stage.
func (o *Orchestrator) advance(ctx context.Context, r *run, to model.JobStatus, progress int) {
	if to != r.stage && !model.CanTransition(r.stage, to) {
		log.Printf("[Orchestrator] Job %s: refusing transition %s -> %s", r.jobID, r.stage, to)
		return
	}
	if progress < r.progress {
		progress = r.progress
	}
	r.stage = to
	r.progress = progress
	if _, err := o.deps.Tracker.SetStatus(ctx, r.jobID, to, progress, ""); err != nil {
		log.Printf("[Orchestrator] Job %s: failed to record %s (%d%%): %v", r.jobID, to, progress, err)
	}
}

func (o *Orchestrator) release(jobID string) {
	if err := o.deps.Workspaces.Release(jobID); err != nil {
		log.Printf("[Orchestrator] Job %s: %v", jobID, fmt.Errorf("%w: %w", ErrCleanup, err))
	}
}

// finish writes the terminal status and the history record.
func (o *Orchestrator) finish(ctx context.Context, r *run, outputPath string, runErr error, elapsed time.Duration) {
	// the job context may already be cancelled; terminal state must still land
	bg := context.WithoutCancel(ctx)

	entry := model.JobHistoryEntry{
		JobID:       r.jobID,
		SourceName:  r.source,
		Segments:    r.segments,
		Clips:       r.clips,
		Duration:    r.duration,
		CompletedAt: time.Now(),
	}

	if runErr != nil {
		msg := UserMessage(runErr)
		if _, err := o.deps.Tracker.SetStatus(bg, r.jobID, model.JobStatusError, r.progress, msg); err != nil {
			log.Printf("[Orchestrator] Job %s: failed to record error: %v", r.jobID, err)
		}
		r.stage = model.JobStatusError
		entry.Status = model.JobStatusError
		entry.Error = msg
		log.Printf("[Orchestrator] Job %s failed after %s: %v", r.jobID, elapsed.Round(time.Millisecond), runErr)
	} else {
		o.advance(bg, r, model.JobStatusCompleted, progressCompleted)
		entry.Status = model.JobStatusCompleted
		log.Printf("[Orchestrator] Job %s completed in %s -> %s", r.jobID, elapsed.Round(time.Millisecond), outputPath)
	}

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Record(bg, entry); err != nil {
			log.Printf("[Orchestrator] Job %s: failed to record history: %v", r.jobID, err)
		}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
