// Package tts streams synthesized speech from Deepgram Aura voices.
package tts

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/prescreen/internal/speech"
)

const (
	idleWindow  = 400 * time.Millisecond
	maxDuration = 12 * time.Second
)

// AuraVoices is the voice list offered when no model is pinned.
var AuraVoices = []speech.Voice{
	{Name: "aura-2-thalia-en", Locale: "en-US", Gender: "female"},
	{Name: "aura-2-andromeda-en", Locale: "en-US", Gender: "female"},
	{Name: "aura-asteria-en", Locale: "en-US", Gender: "female"},
	{Name: "aura-2-orion-en", Locale: "en-US", Gender: "male"},
	{Name: "aura-2-helena-en", Locale: "en-GB", Gender: "female"},
	{Name: "aura-2-celeste-es", Locale: "es-CO", Gender: "female"},
}

// DeepgramClient implements speech.Synthesizer over Deepgram's speak WebSocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

// NewDeepgramClient returns a synthesizer. A non-empty model pins the voice list to that model.
func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: speechSampleRate, encoding: "linear16"}
}

const speechSampleRate = 48000

// Voices lists the available voices; none without an API key.
func (d *DeepgramClient) Voices() []speech.Voice {
	if d.apiKey == "" {
		return nil
	}
	if d.model == "" {
		return AuraVoices
	}
	for _, v := range AuraVoices {
		if v.Name == d.model {
			return []speech.Voice{v}
		}
	}
	return []speech.Voice{{Name: d.model}}
}

// StreamPCM48k streams linear16 mono PCM at 48kHz. The PCM channel closes when the
// voice goes quiet, the context ends or the hard limit passes.
func (d *DeepgramClient) StreamPCM48k(ctx context.Context, voice speech.Voice, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: API key missing")
			return
		}
		if text == "" {
			return
		}
		model := voice.Name
		if model == "" {
			model = d.model
		}

		var lastAudio atomic.Int64
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			lastAudio.Store(time.Now().UnixNano())
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		}}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}
		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			log.Warn().Err(err).Str("voice", model).Msg("deepgram flush error")
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(maxDuration)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if last := lastAudio.Load(); last != 0 && now.Sub(time.Unix(0, last)) > idleWindow {
					return
				}
				if now.After(deadline) {
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(w *msginterfaces.WarningResponse) error {
	log.Warn().Interface("warning", w).Msg("deepgram warning")
	return nil
}
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	log.Error().Interface("error", e).Msg("deepgram error")
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(msg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(msg)
	}
	return nil
}
