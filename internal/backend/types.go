package backend

import "fmt"

// StartSessionResponse is the backend's reply to /start_session.
type StartSessionResponse struct {
	SessionID     string `json:"session_id"`
	FirstQuestion string `json:"first_question"`
}

type startSessionRequest struct {
	PatientName     string   `json:"patient_name"`
	DomainQuestions []string `json:"domain_questions"`
}

// AnswerRequest submits one screening turn.
type AnswerRequest struct {
	SessionID       string
	Question        string
	Answer          string
	DomainQuestions []string
}

// FollowUpAnswerRequest submits one follow-up turn along with the written form it follows.
type FollowUpAnswerRequest struct {
	SessionID    string
	Question     string
	Answer       string
	FormData     map[string]any
	MaxQuestions int
}

// AnswerResponse carries the next question or a completion signal.
// A null next_question decodes to "".
type AnswerResponse struct {
	NextQuestion string `json:"next_question"`
	Done         bool   `json:"done"`
	FormType     string `json:"form_type,omitempty"`
	UserAnswer   string `json:"user_answer,omitempty"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

// QA is one stored question/answer pair. Timestamp is kept verbatim; the backend
// emits naive ISO-8601 times without a zone.
type QA struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionTranscript is the backend's stored view of a session.
type SessionTranscript struct {
	SessionID   string `json:"session_id"`
	PatientName string `json:"patient_name"`
	QAs         []QA   `json:"qas"`
}

// RemoteError is any failed backend call. Status is 0 when no response was received.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }
