package model

// Job status
type JobStatus string

const (
	JobStatusUnknown      JobStatus = "unknown"
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusCombining    JobStatus = "combining"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusError        JobStatus = "error"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// pipelineOrder ranks the non-terminal states in the order a run visits them.
var pipelineOrder = map[JobStatus]int{
	JobStatusQueued:       0,
	JobStatusProcessing:   1,
	JobStatusTranscribing: 2,
	JobStatusSynthesizing: 3,
	JobStatusCombining:    4,
	JobStatusCompleted:    5,
}

// CanTransition enforces the dubbing state machine. Every non-terminal state
// may fail into error; otherwise a run only moves one step forward.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == JobStatusError {
		_, ok := pipelineOrder[from]
		return ok
	}
	fromRank, ok := pipelineOrder[from]
	if !ok {
		return false
	}
	toRank, ok := pipelineOrder[to]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}

// Localization strategies
type TranslateProvider string

const (
	TranslateIdentity TranslateProvider = "identity"
	TranslateOpenAI   TranslateProvider = "openai"
	TranslateGroq     TranslateProvider = "groq"
)

// Transcription providers
type ASRProvider string

const (
	ASROpenAI     ASRProvider = "openai"
	ASRWhisperCLI ASRProvider = "whisper-cli"
)

// Speech synthesis providers
type TTSProvider string

const (
	TTSYating TTSProvider = "yating"
	TTSOpenAI TTSProvider = "openai"
)
