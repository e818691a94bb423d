package speech

import "context"

// Audio is one recorded or synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

// Voice describes a synthesizer voice.
type Voice struct {
	Name   string
	Locale string
	Gender string
}

// Synthesizer streams 48kHz PCM mono audio for the given text in a chosen voice.
// It plays the role of on-device synthesis: audio is produced without the intake backend.
type Synthesizer interface {
	Voices() []Voice
	StreamPCM48k(ctx context.Context, voice Voice, text string) (<-chan []byte, <-chan error)
}

// RemoteSynthesizer fetches rendered audio for text from the intake backend.
type RemoteSynthesizer interface {
	TextToSpeech(ctx context.Context, text string) (Audio, error)
}

// Player delivers audio to the listener.
// WritePCM/FlushTail/Reset handle streamed 48kHz PCM; PlayClip handles a complete encoded clip.
type Player interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued audio immediately.
	Reset()
	PlayClip(ctx context.Context, clip Audio) error
}

// Microphone hands out exclusive capture streams.
type Microphone interface {
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an open microphone. Close releases the device and closes Chunks.
type CaptureStream interface {
	Chunks() <-chan []byte
	ContentType() string
	Close() error
}
