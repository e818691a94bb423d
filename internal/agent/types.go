package agent

import (
	"context"

	"github.com/chadiek/prescreen/internal/backend"
	"github.com/chadiek/prescreen/internal/speech"
)

// Conversation is the backend engine that hands out questions.
type Conversation interface {
	StartSession(ctx context.Context, patientLabel string, domainQuestions []string) (backend.StartSessionResponse, error)
	SubmitAnswer(ctx context.Context, req backend.AnswerRequest) (backend.AnswerResponse, error)
	SubmitFollowUpAnswer(ctx context.Context, req backend.FollowUpAnswerRequest) (backend.AnswerResponse, error)
}

// Transcriber turns a recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio speech.Audio) (string, error)
}

// Speaker reads text aloud. Stop cuts off whatever is playing.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Recorder captures one answer at a time. Stop must release the device on every path.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (speech.Audio, error)
}

// Deps are the collaborators a controller calls into. Speaker may be nil.
type Deps struct {
	Conversation Conversation
	Transcriber  Transcriber
	Speaker      Speaker
	Recorder     Recorder
}

// State is the conversation lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StateCompleted State = "completed"
)

// RecordingState is the capture lifecycle: idle -> recording -> processing -> idle.
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingActive     RecordingState = "recording"
	RecordingProcessing RecordingState = "processing"
)

// Variant names.
const (
	VariantScreening = "screening"
	VariantFollowUp  = "followup"
)

// Turn is one answered question.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Completion is handed to the completion callback once a session ends.
type Completion struct {
	Variant   string
	SessionID string
	History   []Turn
	// FormType is the backend's classification (screening) or the form category (follow-up).
	FormType string
	FormData map[string]any
	Skipped  bool
}

// CompletionFunc is notified once, after the session has moved to StateCompleted.
type CompletionFunc func(ctx context.Context, c Completion)

// View is a point-in-time snapshot for the presentation shell.
type View struct {
	Variant       string         `json:"variant"`
	SessionID     string         `json:"session_id"`
	State         State          `json:"state"`
	Question      string         `json:"current_question,omitempty"`
	Draft         string         `json:"current_answer"`
	History       []Turn         `json:"conversation_history"`
	Recording     RecordingState `json:"recording_state"`
	Busy          bool           `json:"busy"`
	FormType      string         `json:"form_type,omitempty"`
	QuestionCount int            `json:"question_count,omitempty"`
	CanSubmit     bool           `json:"can_submit"`
}

// Controller is the set of user actions the shell relays to either variant.
type Controller interface {
	View() View
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	EditAnswer(text string) error
	SubmitAnswer(ctx context.Context) error
	ReplayQuestion(ctx context.Context) error
	// Close abandons the session and releases the microphone and speaker.
	Close() error
}
