package dubbing

import (
	"errors"
	"fmt"

	"github.com/dubstudio/api/internal/model"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExtraction       = errors.New("audio extraction failed")
	ErrTranscription    = errors.New("transcription failed")
	ErrSynthesis        = errors.New("speech synthesis failed")
	ErrLocalizationSkip = errors.New("localization skipped")
	ErrComposition      = errors.New("audio composition failed")
	ErrMux              = errors.New("mux failed")
	ErrCleanup          = errors.New("workspace cleanup failed")
)

// StageError is a stage-aware failure. Message is safe to show to users;
// Kind is one of the sentinels above and Err is the internal cause.
type StageError struct {
	Stage   model.JobStatus
	Kind    error
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func stageErr(stage model.JobStatus, kind error, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: message, Err: err}
}

// UserMessage returns the message to store on the job for err.
func UserMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
