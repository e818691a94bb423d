package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyAnswer is a validation error: the draft is empty or whitespace.
	ErrEmptyAnswer = errors.New("please provide an answer before submitting")
	// ErrInvalidState rejects an action the current session or recording state does not allow.
	ErrInvalidState = errors.New("action not allowed in the current state")
	// ErrBusy rejects an action while a remote call for the same session is outstanding.
	ErrBusy = errors.New("a request for this session is still in progress")
	// ErrRecording rejects edits and submissions while audio is being captured or transcribed.
	ErrRecording = errors.New("recording in progress")
	// ErrMicrophone wraps device failures while opening or releasing the microphone.
	ErrMicrophone = errors.New("microphone access failed")
	// ErrNoQuestion is a backend contract failure on session start.
	ErrNoQuestion = errors.New("backend returned no session or first question")
)

var errClosed = fmt.Errorf("session closed: %w", ErrInvalidState)
