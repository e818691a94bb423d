package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/chadiek/prescreen/internal/backend"
	"github.com/rs/zerolog/log"
)

// FollowUpConfig describes a follow-up section opened after a written form.
type FollowUpConfig struct {
	PatientLabel string
	Category     string
	Seeds        []string
	FormData     map[string]any
	Policy       FollowUpPolicy
}

// FollowUp is a bounded interview that follows a written form. The session
// is active as soon as it exists.
type FollowUp struct {
	turns
	category      string
	seeds         []string
	formData      map[string]any
	policy        FollowUpPolicy
	questionCount int
	onComplete    CompletionFunc
}

// StartFollowUp opens a backend session seeded with cfg.Seeds and speaks the first question.
func StartFollowUp(ctx context.Context, deps Deps, cfg FollowUpConfig, onComplete CompletionFunc) (*FollowUp, error) {
	resp, err := deps.Conversation.StartSession(ctx, cfg.PatientLabel, cfg.Seeds)
	if err == nil && (resp.SessionID == "" || resp.FirstQuestion == "") {
		err = ErrNoQuestion
	}
	if err != nil {
		log.Error().Err(err).Str("category", cfg.Category).Msg("start follow-up failed")
		return nil, fmt.Errorf("start follow-up: %w", err)
	}

	f := &FollowUp{
		category:   cfg.Category,
		seeds:      append([]string(nil), cfg.Seeds...),
		formData:   cfg.FormData,
		policy:     cfg.Policy.normalized(),
		onComplete: onComplete,
	}
	f.init(deps, VariantFollowUp)
	f.state = StateActive
	f.sessionID = resp.SessionID
	f.question = resp.FirstQuestion

	log.Info().Str("session_id", f.sessionID).Str("category", f.category).Int("seeds", len(f.seeds)).Msg("follow-up started")
	f.announce(ctx, resp.FirstQuestion)
	return f, nil
}

// SubmitAnswer sends the draft and applies the question bounds to the reply.
// The answer to question MaxQuestions always ends the section.
func (f *FollowUp) SubmitAnswer(ctx context.Context) error {
	f.mu.Lock()
	question, answer, err := f.beginSubmitLocked()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	req := backend.FollowUpAnswerRequest{
		SessionID:    f.sessionID,
		Question:     question,
		Answer:       answer,
		FormData:     f.formData,
		MaxQuestions: f.policy.MaxQuestions,
	}
	f.mu.Unlock()

	reply, err := f.deps.Conversation.SubmitFollowUpAnswer(ctx, req)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.mu.Unlock()
		log.Error().Err(err).Str("session_id", req.SessionID).Msg("submit follow-up answer failed")
		return fmt.Errorf("submit follow-up answer: %w", err)
	}

	asked := f.questionCount + 1
	verdict := f.policy.Decide(asked, reply, f.unaskedSeedsLocked(question))
	if !verdict.Complete {
		f.advanceLocked(question, answer, verdict.NextQuestion)
		f.questionCount = asked
		f.mu.Unlock()
		f.announce(ctx, verdict.NextQuestion)
		return nil
	}

	f.completeLocked(question, answer)
	f.questionCount = asked
	done := f.finishLocked(false)
	f.mu.Unlock()
	f.notify(ctx, done)
	return nil
}

// Skip ends the section early without another answer.
func (f *FollowUp) Skip(ctx context.Context) error {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return errClosed
	case f.state != StateActive:
		st := f.state
		f.mu.Unlock()
		return fmt.Errorf("skip follow-up while %s: %w", st, ErrInvalidState)
	case f.busy:
		f.mu.Unlock()
		return ErrBusy
	case f.recording != RecordingIdle:
		f.mu.Unlock()
		return ErrRecording
	}
	done := f.finishLocked(true)
	f.mu.Unlock()
	f.notify(ctx, done)
	return nil
}

// View returns a snapshot of the section.
func (f *FollowUp) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.viewLocked()
	v.FormType = f.category
	v.QuestionCount = f.questionCount
	return v
}

func (f *FollowUp) finishLocked(skipped bool) Completion {
	f.state = StateCompleted
	f.question = ""
	f.draft = ""
	return Completion{
		Variant:   VariantFollowUp,
		SessionID: f.sessionID,
		History:   f.historyLocked(),
		FormType:  f.category,
		FormData:  f.formData,
		Skipped:   skipped,
	}
}

func (f *FollowUp) notify(ctx context.Context, done Completion) {
	log.Info().Str("session_id", done.SessionID).Int("turns", len(done.History)).Bool("skipped", done.Skipped).Msg("follow-up completed")
	if f.onComplete != nil {
		f.onComplete(ctx, done)
	}
}

// unaskedSeedsLocked lists seeds that have not been asked yet, current included.
func (f *FollowUp) unaskedSeedsLocked(current string) []string {
	asked := make(map[string]struct{}, len(f.history)+1)
	asked[norm(current)] = struct{}{}
	for _, t := range f.history {
		asked[norm(t.Question)] = struct{}{}
	}
	var out []string
	for _, q := range f.seeds {
		if _, ok := asked[norm(q)]; !ok {
			out = append(out, q)
		}
	}
	return out
}

func norm(q string) string { return strings.ToLower(strings.TrimSpace(q)) }
