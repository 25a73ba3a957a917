package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dubstudio/api/internal/client"
	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/status"
	"github.com/dubstudio/api/internal/worker"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrQueueFull      = errors.New("queue is full")
	ErrResultNotFound = errors.New("result not found")
)

// HistoryReader lists finished jobs.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]model.JobHistoryEntry, error)
}

// ResultFile locates a finished video: a local path, and a signed URL when
// results are mirrored to object storage.
type ResultFile struct {
	Path string
	URL  string
}

// DubbingServiceOptions wires a DubbingService.
type DubbingServiceOptions struct {
	Upload     config.UploadConfig
	UploadDir  string
	ResultDir  string
	Tracker    status.Tracker
	Dispatcher Dispatcher
	Store      client.ResultStore // optional
	URLExpiry  time.Duration
	History    HistoryReader // optional
}

// DubbingService accepts uploads and answers status and result queries.
type DubbingService struct {
	upload     config.UploadConfig
	uploadDir  string
	resultDir  string
	tracker    status.Tracker
	dispatcher Dispatcher
	store      client.ResultStore
	urlExpiry  time.Duration
	history    HistoryReader
	validate   *validator.Validate
}

func NewDubbingService(opts DubbingServiceOptions) *DubbingService {
	expiry := opts.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &DubbingService{
		upload:     opts.Upload,
		uploadDir:  opts.UploadDir,
		resultDir:  opts.ResultDir,
		tracker:    opts.Tracker,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		urlExpiry:  expiry,
		history:    opts.History,
		validate:   validator.New(),
	}
}

// SubmitJob stores the upload, registers a queued job and dispatches it.
// Invalid input is rejected before any job exists.
func (s *DubbingService) SubmitJob(ctx context.Context, upload io.Reader, size int64, originalFilename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(originalFilename, `\`, "/"))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	req := model.UploadRequest{Filename: name, Size: size, Extension: ext}
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !lo.Contains(s.upload.AllowedExtensions, ext) {
		return "", fmt.Errorf("%w: file type .%s is not allowed (allowed: %s)", ErrInvalidInput, ext, strings.Join(s.upload.AllowedExtensions, ", "))
	}
	if limit := s.upload.MaxUploadBytes(); size > limit {
		return "", fmt.Errorf("%w: file exceeds %d MB", ErrInvalidInput, s.upload.MaxSizeMB)
	}

	jobID := NewJobID(name)
	videoPath := filepath.Join(s.uploadDir, jobID+"."+ext)
	if err := s.saveUpload(upload, videoPath); err != nil {
		return "", err
	}

	if err := s.tracker.Create(ctx, model.Job{
		ID:         jobID,
		SourceName: name,
		Status:     model.JobStatusQueued,
	}); err != nil {
		os.Remove(videoPath)
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	err := s.dispatcher.Dispatch(ctx, model.DubbingTaskPayload{
		JobID:      jobID,
		VideoPath:  videoPath,
		SourceName: name,
	})
	if err != nil {
		msg := "Failed to queue job"
		if errors.Is(err, ErrQueueFull) {
			msg = "Server is busy, please retry later"
		}
		if _, serr := s.tracker.SetStatus(context.WithoutCancel(ctx), jobID, model.JobStatusError, 0, msg); serr != nil {
			log.Printf("[DubbingService] Failed to mark job %s as failed: %v", jobID, serr)
		}
		os.Remove(videoPath)
		return "", fmt.Errorf("failed to dispatch job %s: %w", jobID, err)
	}

	log.Printf("[DubbingService] Accepted %s as job %s (%d bytes)", name, jobID, size)
	return jobID, nil
}

// saveUpload writes the body to path, enforcing the size cap on the bytes
// actually received.
func (s *DubbingService) saveUpload(upload io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}

	limit := s.upload.MaxUploadBytes()
	n, err := io.Copy(f, io.LimitReader(upload, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		os.Remove(tmp)
		return fmt.Errorf("failed to save upload: %w", err)
	case n > limit:
		os.Remove(tmp)
		return fmt.Errorf("%w: file exceeds %d MB", ErrInvalidInput, s.upload.MaxSizeMB)
	case n == 0:
		os.Remove(tmp)
		return fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// GetJobStatus never fails for unknown ids: they report as unknown with zero
// progress.
func (s *DubbingService) GetJobStatus(ctx context.Context, jobID string) (model.StatusResponse, error) {
	job, ok, err := s.tracker.Get(ctx, jobID)
	if err != nil {
		return model.StatusResponse{}, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	if !ok {
		return model.StatusResponse{JobID: jobID, Status: model.JobStatusUnknown, Progress: 0}, nil
	}
	return model.StatusResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
	}, nil
}

// Job returns the full tracker record.
func (s *DubbingService) Job(ctx context.Context, jobID string) (model.Job, bool, error) {
	return s.tracker.Get(ctx, jobID)
}

// FetchResult locates a job's output video.
func (s *DubbingService) FetchResult(ctx context.Context, jobID string) (ResultFile, error) {
	if jobID == "" || filepath.Base(jobID) != jobID || strings.ContainsAny(jobID, `/\`) || jobID == ".." {
		return ResultFile{}, fmt.Errorf("%w: %q", ErrResultNotFound, jobID)
	}
	path := filepath.Join(s.resultDir, jobID+".mp4")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ResultFile{}, fmt.Errorf("%w: %s", ErrResultNotFound, jobID)
	}

	res := ResultFile{Path: path}
	if s.store != nil {
		url, err := s.store.GetSignedURL(ctx, worker.ResultKey(jobID), s.urlExpiry)
		if err != nil {
			log.Printf("[DubbingService] Falling back to local result for %s: %v", jobID, err)
		} else {
			res.URL = url
		}
	}
	return res, nil
}

// RecentJobs lists finished jobs, newest first.
func (s *DubbingService) RecentJobs(ctx context.Context, limit int) ([]model.JobHistoryEntry, error) {
	if s.history == nil {
		return []model.JobHistoryEntry{}, nil
	}
	return s.history.Recent(ctx, limit)
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxStemLen = 48

// NewJobID derives a job id from the upload's filename stem plus a random
// suffix, so two uploads of the same file never share an id.
func NewJobID(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = strings.Trim(unsafeIDChars.ReplaceAllString(stem, "-"), "-_")
	if len(stem) > maxStemLen {
		stem = strings.TrimRight(stem[:maxStemLen], "-_")
	}
	if stem == "" {
		stem = "video"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return stem + "-" + suffix
}
