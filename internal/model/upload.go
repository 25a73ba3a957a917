package model

import "time"

// UploadRequest carries the multipart metadata validated before a job is created
type UploadRequest struct {
	Filename  string `validate:"required,max=255"`
	Size      int64  `validate:"gt=0"`
	Extension string `validate:"required"`
}

// UploadResponse represents the response after accepting an upload
type UploadResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
}

// StatusResponse is what pollers see for a job
type StatusResponse struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Error    *string   `json:"error,omitempty"`
}

// JobHistoryEntry is a terminal job recorded in the history store
type JobHistoryEntry struct {
	JobID       string    `json:"jobId"`
	SourceName  string    `json:"sourceName"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Segments    int       `json:"segments"`
	Clips       int       `json:"clips"`
	Duration    float64   `json:"duration"`
	CompletedAt time.Time `json:"completedAt"`
}
