package agent

import (
	"context"
	"fmt"

	"github.com/chadiek/prescreen/internal/backend"
	"github.com/rs/zerolog/log"
)

// Screening is the open-ended pre-screening interview. The backend decides
// when it is over.
type Screening struct {
	turns
	domainQuestions []string
	formType        string
	onComplete      CompletionFunc
}

// NewScreening returns an idle screening session. onComplete may be nil.
func NewScreening(deps Deps, onComplete CompletionFunc) *Screening {
	s := &Screening{onComplete: onComplete}
	s.init(deps, VariantScreening)
	return s
}

// Start opens a backend session and speaks the first question.
// On failure the session stays idle and may be started again.
func (s *Screening) Start(ctx context.Context, patientLabel string, domainQuestions []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start screening while %s: %w", st, ErrInvalidState)
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	resp, err := s.deps.Conversation.StartSession(ctx, patientLabel, domainQuestions)

	s.mu.Lock()
	s.busy = false
	if err == nil && (resp.SessionID == "" || resp.FirstQuestion == "") {
		err = ErrNoQuestion
	}
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("start screening failed")
		return fmt.Errorf("start screening: %w", err)
	}
	s.sessionID = resp.SessionID
	s.question = resp.FirstQuestion
	s.domainQuestions = append([]string(nil), domainQuestions...)
	s.state = StateActive
	s.mu.Unlock()

	log.Info().Str("session_id", resp.SessionID).Int("domain_questions", len(domainQuestions)).Msg("screening started")
	s.announce(ctx, resp.FirstQuestion)
	return nil
}

// SubmitAnswer sends the draft for the current question. A non-empty next
// question continues the interview; otherwise the session completes. On a
// remote failure nothing changes and the draft is kept for a retry.
func (s *Screening) SubmitAnswer(ctx context.Context) error {
	s.mu.Lock()
	question, answer, err := s.beginSubmitLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	req := backend.AnswerRequest{
		SessionID:       s.sessionID,
		Question:        question,
		Answer:          answer,
		DomainQuestions: s.domainQuestions,
	}
	s.mu.Unlock()

	reply, err := s.deps.Conversation.SubmitAnswer(ctx, req)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Str("session_id", req.SessionID).Msg("submit answer failed")
		return fmt.Errorf("submit answer: %w", err)
	}

	if reply.NextQuestion != "" {
		s.advanceLocked(question, answer, reply.NextQuestion)
		s.mu.Unlock()
		s.announce(ctx, reply.NextQuestion)
		return nil
	}

	if !reply.Done {
		log.Warn().Str("session_id", req.SessionID).Msg("backend sent neither a next question nor done; completing")
	}
	s.completeLocked(question, answer)
	s.formType = reply.FormType
	done := Completion{
		Variant:   VariantScreening,
		SessionID: s.sessionID,
		History:   s.historyLocked(),
		FormType:  reply.FormType,
	}
	s.mu.Unlock()

	log.Info().Str("session_id", done.SessionID).Int("turns", len(done.History)).Str("form_type", done.FormType).Msg("screening completed")
	if s.onComplete != nil {
		s.onComplete(ctx, done)
	}
	return nil
}

// View returns a snapshot of the session.
func (s *Screening) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.viewLocked()
	v.FormType = s.formType
	return v
}
