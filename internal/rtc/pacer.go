package rtc

import (
	"sync"
	"time"
)

// PCM framing for the browser player: 48kHz mono s16le in 20ms frames.
const (
	SampleRate    = 48000
	frameDuration = 20 * time.Millisecond
	frameBytes    = SampleRate / 50 * 2
	tailFrames    = 10
)

// PacedWriter cuts 48kHz PCM into 20ms frames and hands them to sink at playback speed,
// so a reset drops audio the listener has not heard yet.
type PacedWriter struct {
	sink    func([]byte) error
	pcmBuf  []byte
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewPacedWriter starts the pacer.
func NewPacedWriter(sink func([]byte) error) *PacedWriter {
	w := &PacedWriter{
		sink:   sink,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
	go w.pacer()
	return w
}

// WritePCM buffers PCM and queues every complete frame.
func (w *PacedWriter) WritePCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = append(w.pcmBuf, pcm...)
	for len(w.pcmBuf) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, w.pcmBuf[:frameBytes])
		w.pushFrame(frame)
		w.pcmBuf = w.pcmBuf[:copy(w.pcmBuf, w.pcmBuf[frameBytes:])]
	}
}

// FlushTail pads the last partial frame and appends ~200ms of silence so the end is not clipped.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	if len(w.pcmBuf) > 0 {
		frame := make([]byte, frameBytes)
		copy(frame, w.pcmBuf)
		w.pushFrame(frame)
		w.pcmBuf = w.pcmBuf[:0]
	}
	w.mu.Unlock()
	for i := 0; i < tailFrames; i++ {
		w.pushFrame(make([]byte, frameBytes))
	}
}

// Reset drops queued and buffered audio.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

// Close stops the pacer.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.sink(frame)
			default:
			}
		}
	}
}

// pushFrame enqueues a frame, blocking until space is available or stopped.
func (w *PacedWriter) pushFrame(frame []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- frame:
	}
}
