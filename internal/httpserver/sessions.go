package httpserver

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/speech"
)

// sessionTable holds the live controllers by backend session id.
type sessionTable struct {
	mu   sync.Mutex
	byID map[string]agent.Controller
}

func newSessionTable() *sessionTable {
	return &sessionTable{byID: make(map[string]agent.Controller)}
}

// put stores c under its session id. A different controller already stored
// under that id is closed.
func (t *sessionTable) put(c agent.Controller) string {
	id := c.View().SessionID
	t.mu.Lock()
	prev := t.byID[id]
	t.byID[id] = c
	t.mu.Unlock()
	if prev != nil && prev != c {
		closeController(id, prev)
	}
	return id
}

func (t *sessionTable) get(id string) (agent.Controller, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[id]
	return c, ok
}

// remove drops the controller for id and closes it.
func (t *sessionTable) remove(id string) bool {
	t.mu.Lock()
	c, ok := t.byID[id]
	delete(t.byID, id)
	t.mu.Unlock()
	if ok {
		closeController(id, c)
	}
	return ok
}

// evictCompleted removes c once it has finished. The completion callback has already run.
func (t *sessionTable) evictCompleted(c agent.Controller) {
	v := c.View()
	if v.State != agent.StateCompleted {
		return
	}
	t.mu.Lock()
	if t.byID[v.SessionID] == c {
		delete(t.byID, v.SessionID)
	}
	t.mu.Unlock()
}

func closeController(id string, c agent.Controller) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("close session")
	}
}

type foregroundKey struct{}

// inForeground marks ctx so that speech waits for playback to end.
func inForeground(ctx context.Context) context.Context {
	return context.WithValue(ctx, foregroundKey{}, true)
}

// backgroundSpeaker plays questions without holding up the request that triggered them.
// Requests marked with inForeground wait and get the playback error.
type backgroundSpeaker struct {
	speaker *speech.Speaker
}

func (b backgroundSpeaker) Speak(ctx context.Context, text string) error {
	if fg, _ := ctx.Value(foregroundKey{}).(bool); fg {
		return b.speaker.Speak(ctx, text)
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := b.speaker.Speak(ctx, text); err != nil {
			log.Warn().Err(err).Msg("speak question failed")
		}
	}()
	return nil
}

func (b backgroundSpeaker) Stop() { b.speaker.Stop() }
