package speech

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultContentType = "audio/webm"

var (
	ErrAlreadyRecording = errors.New("speech: capture already in progress")
	ErrNotRecording     = errors.New("speech: no capture in progress")
)

// Recorder buffers one microphone capture at a time.
type Recorder struct {
	mic Microphone

	mu      sync.Mutex
	stream  CaptureStream
	chunks  [][]byte
	drained chan struct{}
}

// NewRecorder wraps a microphone.
func NewRecorder(mic Microphone) *Recorder {
	return &Recorder{mic: mic}
}

// Start acquires the microphone and begins buffering chunks.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return ErrAlreadyRecording
	}
	stream, err := r.mic.Open(ctx)
	if err != nil {
		return err
	}
	r.stream = stream
	r.chunks = nil
	r.drained = make(chan struct{})
	go r.drain(stream, r.drained)
	return nil
}

func (r *Recorder) drain(stream CaptureStream, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		r.mu.Lock()
		r.chunks = append(r.chunks, chunk)
		r.mu.Unlock()
	}
}

// Stop releases the microphone and returns everything captured as one clip.
// The device is released even when closing reports an error.
func (r *Recorder) Stop() (Audio, error) {
	r.mu.Lock()
	stream := r.stream
	done := r.drained
	r.stream = nil
	r.mu.Unlock()
	if stream == nil {
		return Audio{}, ErrNotRecording
	}

	if err := stream.Close(); err != nil {
		log.Warn().Err(err).Msg("capture close reported an error")
	}
	<-done

	r.mu.Lock()
	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.mu.Unlock()

	contentType := stream.ContentType()
	if contentType == "" {
		contentType = defaultContentType
	}
	return Audio{Data: data, ContentType: contentType}, nil
}
