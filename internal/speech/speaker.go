package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoOutput is returned when there is nowhere to play audio.
	ErrNoOutput = errors.New("speech: no audio output")
	// ErrNoVoice is returned when the synthesizer has no voice for the preferred locale.
	ErrNoVoice = errors.New("speech: no matching voice")
	errNoAudio = errors.New("speech: synthesizer produced no audio")
)

// Speaker speaks text, preferring the local synthesizer and falling back to backend audio.
// At most one utterance is audible at a time: a new Speak cancels the previous one.
type Speaker struct {
	synth  Synthesizer
	remote RemoteSynthesizer
	player Player
	pref   VoicePreference

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// NewSpeaker constructs a Speaker. synth or remote may be nil.
func NewSpeaker(synth Synthesizer, remote RemoteSynthesizer, player Player, pref VoicePreference) *Speaker {
	return &Speaker{synth: synth, remote: remote, player: player, pref: pref}
}

// Speak renders text to the player. Errors are informational; callers treat them as non-fatal.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.player == nil {
		return ErrNoOutput
	}

	uctx, done := s.begin(ctx)
	defer done()

	if s.synth != nil {
		spoke, err := s.streamLocal(uctx, text)
		if spoke {
			return nil
		}
		if uctx.Err() != nil {
			// superseded by a newer utterance or caller gave up
			return uctx.Err()
		}
		log.Warn().Err(err).Msg("local synthesis unavailable, using backend audio")
	}

	if s.remote == nil {
		return fmt.Errorf("speak: %w", ErrNoOutput)
	}
	clip, err := s.remote.TextToSpeech(uctx, text)
	if err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	if err := s.player.PlayClip(uctx, clip); err != nil {
		return fmt.Errorf("speak: play clip: %w", err)
	}
	return nil
}

// Stop silences the current utterance, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.player.Reset()
}

// begin cancels the in-flight utterance and registers a new one.
func (s *Speaker) begin(ctx context.Context) (context.Context, func()) {
	uctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	prev := s.cancel
	s.cancel = cancel
	s.seq++
	id := s.seq
	s.mu.Unlock()

	if prev != nil {
		prev()
		s.player.Reset()
	}

	return uctx, func() {
		s.mu.Lock()
		if s.seq == id {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// streamLocal reports whether any audio reached the player.
func (s *Speaker) streamLocal(ctx context.Context, text string) (bool, error) {
	voice, ok := SelectVoice(s.synth.Voices(), s.pref)
	if !ok {
		return false, ErrNoVoice
	}

	pcmCh, errCh := s.synth.StreamPCM48k(ctx, voice, text)
	wrote := false
	var streamErr error
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				pcmCh = nil
				continue
			}
			if len(b) > 0 && ctx.Err() == nil {
				s.player.WritePCM(b)
				wrote = true
			}
		case e, ok := <-errCh:
			if !ok {
				openErr = false
				errCh = nil
				continue
			}
			if e != nil {
				streamErr = e
			}
		case <-ctx.Done():
			return wrote, ctx.Err()
		}
	}

	if !wrote {
		if streamErr == nil {
			streamErr = errNoAudio
		}
		return false, streamErr
	}
	if streamErr != nil {
		log.Warn().Err(streamErr).Str("voice", voice.Name).Msg("synthesis ended early")
	}
	s.player.FlushTail()
	return true, nil
}
