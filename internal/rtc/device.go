// Package rtc connects a browser tab to the session controller over a WebSocket.
// The tab is the microphone and the speaker: it streams MediaRecorder chunks up and
// plays paced PCM or whole clips coming down.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/prescreen/internal/speech"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDevice         = errors.New("no audio device connected")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceBusy       = errors.New("microphone already in use")
)

// Binary frames sent to the browser start with one of these kind bytes.
const (
	framePCM  byte = 'P'
	frameClip byte = 'C'
)

const (
	openTimeout  = 10 * time.Second
	drainTimeout = 2 * time.Second
)

// controlMessage is a JSON text frame in either direction.
// Server to browser: "mic-open", "mic-close", "reset", "clip", "pcm-format".
// Browser to server: "mic-started", "mic-denied", "mic-stopped", "bye".
type controlMessage struct {
	Type        string `json:"type"`
	ContentType string `json:"content_type,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Error       string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Device is one browser tab. It implements speech.Microphone and speech.Player.
type Device struct {
	ID string

	// onDetach runs after the browser has gone and the device is released.
	onDetach func()

	mu      sync.Mutex
	conn    *websocket.Conn
	gone    chan struct{}
	opening chan controlMessage
	paced   *PacedWriter

	writeMu sync.Mutex

	captureMu sync.Mutex
	capture   *captureStream
}

// NewDevice returns a device that is not yet connected.
func NewDevice(id string) *Device {
	return &Device{ID: id}
}

// Connected reports whether a browser is attached.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// ServeWebSocket upgrades the request and serves the device until the browser leaves.
func (d *Device) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if d.Connected() {
		http.Error(w, ErrDeviceBusy.Error(), http.StatusConflict)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("device_id", d.ID).Msg("ws upgrade error")
		return
	}
	if err := d.Serve(r.Context(), conn); err != nil {
		log.Warn().Err(err).Str("device_id", d.ID).Msg("device connection ended")
	}
}

// Serve reads from conn until it fails or the browser says bye. conn is closed on return.
func (d *Device) Serve(ctx context.Context, conn *websocket.Conn) error {
	d.mu.Lock()
	if d.conn != nil {
		d.mu.Unlock()
		_ = conn.Close()
		return ErrDeviceBusy
	}
	d.conn = conn
	d.gone = make(chan struct{})
	d.paced = NewPacedWriter(func(frame []byte) error {
		return d.writeBinary(framePCM, frame)
	})
	d.mu.Unlock()
	log.Info().Str("device_id", d.ID).Msg("device connected")

	defer d.detach()

	if err := d.writeControl(controlMessage{Type: "pcm-format", SampleRate: SampleRate}); err != nil {
		return fmt.Errorf("send pcm format: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		switch mt {
		case websocket.BinaryMessage:
			d.deliverChunk(data)
		case websocket.TextMessage:
			var m controlMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "mic-started", "mic-denied":
				d.mu.Lock()
				if d.opening != nil {
					d.opening <- m
					d.opening = nil
				}
				d.mu.Unlock()
			case "mic-stopped":
				d.captureMu.Lock()
				if d.capture != nil {
					d.capture.markStopped()
				}
				d.captureMu.Unlock()
			case "bye":
				return nil
			}
		}
	}
}

func (d *Device) detach() {
	d.mu.Lock()
	conn, paced, gone := d.conn, d.paced, d.gone
	d.conn, d.paced, d.gone, d.opening = nil, nil, nil, nil
	d.mu.Unlock()

	paced.Close()
	close(gone)
	_ = conn.Close()

	d.captureMu.Lock()
	c := d.capture
	d.capture = nil
	d.captureMu.Unlock()
	if c != nil {
		c.finish()
	}
	log.Info().Str("device_id", d.ID).Msg("device disconnected")
	if d.onDetach != nil {
		d.onDetach()
	}
}

// Open asks the browser for the microphone and waits for its answer.
func (d *Device) Open(ctx context.Context) (speech.CaptureStream, error) {
	d.captureMu.Lock()
	busy := d.capture != nil
	d.captureMu.Unlock()
	if busy {
		return nil, ErrDeviceBusy
	}

	d.mu.Lock()
	if d.conn == nil {
		d.mu.Unlock()
		return nil, ErrNoDevice
	}
	if d.opening != nil {
		d.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	reply := make(chan controlMessage, 1)
	d.opening = reply
	gone := d.gone
	d.mu.Unlock()

	if err := d.writeControl(controlMessage{Type: "mic-open"}); err != nil {
		d.clearOpening(reply)
		return nil, fmt.Errorf("request microphone: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	select {
	case m := <-reply:
		if m.Type == "mic-denied" {
			if m.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, m.Error)
			}
			return nil, ErrPermissionDenied
		}
		c := &captureStream{
			dev:         d,
			chunks:      make(chan []byte, 64),
			stopped:     make(chan struct{}),
			contentType: m.ContentType,
		}
		d.captureMu.Lock()
		if d.capture != nil {
			d.captureMu.Unlock()
			return nil, ErrDeviceBusy
		}
		d.capture = c
		d.captureMu.Unlock()
		return c, nil
	case <-gone:
		return nil, ErrNoDevice
	case <-ctx.Done():
		d.clearOpening(reply)
		return nil, fmt.Errorf("waiting for microphone: %w", ctx.Err())
	}
}

func (d *Device) clearOpening(reply chan controlMessage) {
	d.mu.Lock()
	if d.opening == reply {
		d.opening = nil
	}
	d.mu.Unlock()
}

func (d *Device) deliverChunk(data []byte) {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	if d.capture == nil || d.capture.done {
		return
	}
	d.capture.chunks <- data
}

// WritePCM queues 48kHz mono PCM for paced playback.
func (d *Device) WritePCM(pcm []byte) {
	if p := d.pacer(); p != nil {
		p.WritePCM(pcm)
	}
}

// FlushTail finishes the current PCM utterance.
func (d *Device) FlushTail() {
	if p := d.pacer(); p != nil {
		p.FlushTail()
	}
}

// Reset drops queued audio here and tells the browser to stop what it is playing.
func (d *Device) Reset() {
	p := d.pacer()
	if p == nil {
		return
	}
	p.Reset()
	if err := d.writeControl(controlMessage{Type: "reset"}); err != nil {
		log.Debug().Err(err).Str("device_id", d.ID).Msg("send reset")
	}
}

// PlayClip sends a whole encoded clip to the browser.
func (d *Device) PlayClip(_ context.Context, clip speech.Audio) error {
	if !d.Connected() {
		return ErrNoDevice
	}
	if err := d.writeControl(controlMessage{Type: "clip", ContentType: clip.ContentType}); err != nil {
		return fmt.Errorf("send clip header: %w", err)
	}
	if err := d.writeBinary(frameClip, clip.Data); err != nil {
		return fmt.Errorf("send clip: %w", err)
	}
	return nil
}

func (d *Device) pacer() *PacedWriter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paced
}

func (d *Device) writeControl(m controlMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.write(websocket.TextMessage, data)
}

func (d *Device) writeBinary(kind byte, payload []byte) error {
	msg := make([]byte, 0, len(payload)+1)
	msg = append(msg, kind)
	msg = append(msg, payload...)
	return d.write(websocket.BinaryMessage, msg)
}

func (d *Device) write(mt int, data []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNoDevice
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(mt, data)
}

// captureStream is one open microphone capture.
type captureStream struct {
	dev         *Device
	chunks      chan []byte
	contentType string

	stopOnce sync.Once
	stopped  chan struct{}
	closeMu  sync.Once
	done     bool
}

func (c *captureStream) Chunks() <-chan []byte { return c.chunks }
func (c *captureStream) ContentType() string  { return c.contentType }

// Close tells the browser to stop recording, waits briefly for its last chunk and releases the device.
func (c *captureStream) Close() error {
	err := c.dev.writeControl(controlMessage{Type: "mic-close"})
	if err == nil {
		select {
		case <-c.stopped:
		case <-time.After(drainTimeout):
			err = errors.New("browser did not confirm microphone stop")
		}
	}

	c.dev.captureMu.Lock()
	if c.dev.capture == c {
		c.dev.capture = nil
	}
	c.dev.captureMu.Unlock()
	c.finish()

	if errors.Is(err, ErrNoDevice) {
		return nil
	}
	return err
}

func (c *captureStream) markStopped() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// finish closes the chunk channel once.
func (c *captureStream) finish() {
	c.markStopped()
	c.closeMu.Do(func() {
		c.dev.captureMu.Lock()
		c.done = true
		close(c.chunks)
		c.dev.captureMu.Unlock()
	})
}
