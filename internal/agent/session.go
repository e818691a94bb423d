// Package agent drives a spoken question-and-answer session against the intake backend.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// turns is the state shared by both session variants. mu is never held across a
// remote call, a device call or a callback.
type turns struct {
	deps    Deps
	variant string

	mu        sync.Mutex
	state     State
	sessionID string
	question  string
	draft     string
	history   []Turn
	recording RecordingState
	busy      bool
	closed    bool
}

func (t *turns) init(deps Deps, variant string) {
	t.deps = deps
	t.variant = variant
	t.state = StateIdle
	t.recording = RecordingIdle
}

// StartRecording opens the microphone for the current question.
func (t *turns) StartRecording(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return errClosed
	case t.state != StateActive:
		t.mu.Unlock()
		return fmt.Errorf("start recording while %s: %w", t.state, ErrInvalidState)
	case t.recording != RecordingIdle:
		t.mu.Unlock()
		return fmt.Errorf("start recording while %s: %w", t.recording, ErrInvalidState)
	case t.busy:
		t.mu.Unlock()
		return ErrBusy
	}
	t.recording = RecordingActive
	t.mu.Unlock()

	if t.deps.Recorder == nil {
		t.setRecording(RecordingIdle)
		return fmt.Errorf("%w: no recorder", ErrMicrophone)
	}
	if err := t.deps.Recorder.Start(ctx); err != nil {
		t.setRecording(RecordingIdle)
		log.Warn().Err(err).Str("session_id", t.id()).Msg("microphone unavailable")
		return fmt.Errorf("%w: %w", ErrMicrophone, err)
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		// Close ran while the device was opening and found nothing to release.
		if _, err := t.deps.Recorder.Stop(); err != nil {
			log.Debug().Err(err).Str("session_id", t.id()).Msg("release microphone after close")
		}
		return errClosed
	}
	return nil
}

// StopRecording releases the microphone, transcribes the clip and replaces the draft.
// On failure the draft is left as it was.
func (t *turns) StopRecording(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.recording != RecordingActive {
		rs := t.recording
		t.mu.Unlock()
		return "", fmt.Errorf("stop recording while %s: %w", rs, ErrInvalidState)
	}
	t.recording = RecordingProcessing
	t.mu.Unlock()

	audio, err := t.deps.Recorder.Stop()
	if err != nil {
		t.setRecording(RecordingIdle)
		return "", fmt.Errorf("%w: %w", ErrMicrophone, err)
	}

	text, err := t.deps.Transcriber.Transcribe(ctx, audio)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = RecordingIdle
	if err != nil {
		log.Error().Err(err).Str("session_id", t.sessionID).Msg("transcription failed")
		return "", fmt.Errorf("transcribe answer: %w", err)
	}
	t.draft = text
	return text, nil
}

// EditAnswer replaces the draft with typed text.
func (t *turns) EditAnswer(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	if t.state != StateActive {
		return fmt.Errorf("edit answer while %s: %w", t.state, ErrInvalidState)
	}
	if t.recording != RecordingIdle {
		return ErrRecording
	}
	t.draft = text
	return nil
}

// ReplayQuestion speaks the current question again. Session state is untouched.
func (t *turns) ReplayQuestion(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errClosed
	}
	if t.state != StateActive || t.question == "" {
		st := t.state
		t.mu.Unlock()
		return fmt.Errorf("replay question while %s: %w", st, ErrInvalidState)
	}
	q := t.question
	t.mu.Unlock()

	if t.deps.Speaker == nil {
		return nil
	}
	if err := t.deps.Speaker.Speak(ctx, q); err != nil {
		return fmt.Errorf("replay question: %w", err)
	}
	return nil
}

// Close abandons the session. An open capture is released and its audio dropped,
// and the question being spoken is cut off. A submit already in flight still
// lands in the history, but nothing further is spoken. Close is idempotent.
func (t *turns) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	capturing := t.recording == RecordingActive
	if capturing {
		t.recording = RecordingIdle
	}
	id := t.sessionID
	t.mu.Unlock()

	if t.deps.Speaker != nil {
		t.deps.Speaker.Stop()
	}
	log.Info().Str("session_id", id).Str("variant", t.variant).Bool("was_recording", capturing).Msg("session closed")
	if !capturing || t.deps.Recorder == nil {
		return nil
	}
	if _, err := t.deps.Recorder.Stop(); err != nil {
		return fmt.Errorf("%w: %w", ErrMicrophone, err)
	}
	return nil
}

// beginSubmitLocked validates the draft and marks the session busy. Caller holds mu.
func (t *turns) beginSubmitLocked() (question, answer string, err error) {
	switch {
	case t.closed:
		return "", "", errClosed
	case t.state != StateActive:
		return "", "", fmt.Errorf("submit answer while %s: %w", t.state, ErrInvalidState)
	case t.busy:
		return "", "", ErrBusy
	case t.recording != RecordingIdle:
		return "", "", ErrRecording
	}
	answer = strings.TrimSpace(t.draft)
	if answer == "" {
		return "", "", ErrEmptyAnswer
	}
	t.busy = true
	return t.question, answer, nil
}

// advanceLocked records the answered turn and moves to the next question.
func (t *turns) advanceLocked(question, answer, next string) {
	t.history = append(t.history, Turn{Question: question, Answer: answer})
	t.question = next
	t.draft = ""
}

// completeLocked records the final turn, if any, and ends the session.
func (t *turns) completeLocked(question, answer string) {
	if answer != "" {
		t.history = append(t.history, Turn{Question: question, Answer: answer})
	}
	t.question = ""
	t.draft = ""
	t.state = StateCompleted
}

func (t *turns) historyLocked() []Turn {
	out := make([]Turn, len(t.history))
	copy(out, t.history)
	return out
}

func (t *turns) viewLocked() View {
	return View{
		Variant:   t.variant,
		SessionID: t.sessionID,
		State:     t.state,
		Question:  t.question,
		Draft:     t.draft,
		History:   t.historyLocked(),
		Recording: t.recording,
		Busy:      t.busy,
		CanSubmit: t.state == StateActive && !t.busy && t.recording == RecordingIdle && strings.TrimSpace(t.draft) != "",
	}
}

// announce speaks a question. Playback problems never fail the session.
func (t *turns) announce(ctx context.Context, question string) {
	if t.deps.Speaker == nil || question == "" {
		return
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	if err := t.deps.Speaker.Speak(ctx, question); err != nil {
		log.Warn().Err(err).Str("session_id", t.id()).Str("variant", t.variant).Msg("speak question failed")
	}
}

func (t *turns) setRecording(rs RecordingState) {
	t.mu.Lock()
	t.recording = rs
	t.mu.Unlock()
}

func (t *turns) id() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}
