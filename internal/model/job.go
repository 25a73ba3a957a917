package model

import "time"

// Job represents one end-to-end dubbing request
type Job struct {
	ID          string     `json:"jobId"`
	SourceName  string     `json:"sourceName,omitempty"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ErrorMessage returns the job's error message or an empty string.
func (j *Job) ErrorMessage() string {
	if j == nil || j.Error == nil {
		return ""
	}
	return *j.Error
}

// DubbingTaskPayload is the queued unit of work for a worker
type DubbingTaskPayload struct {
	JobID      string `json:"jobId"`
	VideoPath  string `json:"videoPath"`
	SourceName string `json:"sourceName"`
}

// Segment is a timestamped unit of source speech
type Segment struct {
	Index      int     `json:"index"`
	StartTime  float64 `json:"start"`
	EndTime    float64 `json:"end"`
	SourceText string  `json:"text"`
}

// Span returns the segment's duration in seconds.
func (s Segment) Span() float64 {
	return s.EndTime - s.StartTime
}

// Valid reports whether the segment has a positive time span.
func (s Segment) Valid() bool {
	return s.EndTime > s.StartTime && s.StartTime >= 0
}

// SynthesizedClip is the rendered target-language audio for one segment
type SynthesizedClip struct {
	SegmentIndex int     `json:"segmentIndex"`
	AudioPath    string  `json:"audioPath"`
	StartTime    float64 `json:"start"`
	EndTime      float64 `json:"end"`
	ClipDuration float64 `json:"clipDuration"`
}

// VoiceConfig is the fixed voice profile passed to speech synthesis
type VoiceConfig struct {
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	Pitch      float64 `json:"pitch"`
	Energy     float64 `json:"energy"`
	Encoding   string  `json:"encoding"`
	SampleRate string  `json:"sampleRate"`
}
