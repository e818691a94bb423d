package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) write(b []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, b)
	s.mu.Unlock()
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestPacedWriter_WritesWholeFrames(t *testing.T) {
	sink := &frameSink{}
	w := NewPacedWriter(sink.write)
	defer w.Close()

	w.WritePCM(make([]byte, frameBytes*2+10))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	assert.Len(t, w.pcmBuf, 10)
	w.mu.Unlock()

	sink.mu.Lock()
	for _, f := range sink.frames {
		assert.Len(t, f, frameBytes)
	}
	sink.mu.Unlock()
}

func TestPacedWriter_FlushTailPadsAndAddsSilence(t *testing.T) {
	sink := &frameSink{}
	w := NewPacedWriter(sink.write)
	defer w.Close()

	w.WritePCM([]byte{1, 2, 3, 4})
	w.FlushTail()
	require.Eventually(t, func() bool { return sink.count() == 1+tailFrames }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	first := sink.frames[0]
	sink.mu.Unlock()
	assert.Len(t, first, frameBytes)
	assert.Equal(t, []byte{1, 2, 3, 4}, first[:4])
}

func TestPacedWriter_ResetDrains(t *testing.T) {
	w := &PacedWriter{
		sink:   func([]byte) error { return nil },
		frames: make(chan []byte, 8),
		stopCh: make(chan struct{}),
		pcmBuf: []byte{1, 2, 3},
	}
	w.frames <- []byte{0x01}
	w.frames <- []byte{0x02}
	w.Reset()
	select {
	case <-w.frames:
		t.Fatalf("expected frames channel to be drained")
	default:
	}
	assert.Empty(t, w.pcmBuf)
}
