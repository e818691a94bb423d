package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/auth"
	"github.com/chadiek/prescreen/internal/backend"
	"github.com/chadiek/prescreen/internal/catalog"
	"github.com/chadiek/prescreen/internal/infra/storage"
	"github.com/chadiek/prescreen/internal/records"
	"github.com/chadiek/prescreen/internal/rtc"
	"github.com/chadiek/prescreen/internal/speech"
	"github.com/chadiek/prescreen/internal/usecase"
)

// scriptedBackend hands out questions from a fixed script.
type scriptedBackend struct {
	mu        sync.Mutex
	questions []string
	fail      bool
	seeds     []string
}

func (b *scriptedBackend) StartSession(_ context.Context, _ string, seeds []string) (backend.StartSessionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seeds = seeds
	return backend.StartSessionResponse{SessionID: "s-1", FirstQuestion: "What brings you in today?"}, nil
}

func (b *scriptedBackend) next() (backend.AnswerResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return backend.AnswerResponse{}, &backend.RemoteError{Op: backend.OpSubmitAnswer, Status: 500, Body: "boom"}
	}
	if len(b.questions) == 0 {
		return backend.AnswerResponse{Done: true, FormType: "cardiac"}, nil
	}
	q := b.questions[0]
	b.questions = b.questions[1:]
	return backend.AnswerResponse{NextQuestion: q}, nil
}

func (b *scriptedBackend) SubmitAnswer(context.Context, backend.AnswerRequest) (backend.AnswerResponse, error) {
	return b.next()
}

func (b *scriptedBackend) SubmitFollowUpAnswer(context.Context, backend.FollowUpAnswerRequest) (backend.AnswerResponse, error) {
	return b.next()
}

func (b *scriptedBackend) Transcribe(context.Context, speech.Audio) (string, error) { return "heard", nil }

func (b *scriptedBackend) TextToSpeech(context.Context, string) (speech.Audio, error) {
	return speech.Audio{Data: []byte("RIFF"), ContentType: "audio/wav"}, nil
}

func (b *scriptedBackend) FetchSession(_ context.Context, id string) (backend.SessionTranscript, error) {
	if id != "s-1" {
		return backend.SessionTranscript{}, &backend.RemoteError{Op: backend.OpFetchSession, Status: 404}
	}
	return backend.SessionTranscript{SessionID: id, QAs: []backend.QA{{Question: "Q", Answer: "A"}}}, nil
}

type testServer struct {
	srv     *Server
	backend *scriptedBackend
	state   *auth.State
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	be := &scriptedBackend{questions: []string{"How long has it hurt?"}}
	state := auth.NewState(store)
	cat := catalog.Default()
	srv := New(Deps{
		Backend: be,
		Catalog: cat,
		Auth:    state,
		Store:   store,
		Intake:  usecase.NewIntakeService(store, state, cat, nil),
		Devices: rtc.NewRegistry(),
		Policy:  agent.DefaultFollowUpPolicy(),
	})
	return &testServer{srv: srv, backend: be, state: state}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.srv.Router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_Healthz(t *testing.T) {
	w := newTestServer(t).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ScreeningFlowSavesRecord(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/auth/signup", `{"email":"pat@example.com","password":"secret1","name":"Pat"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/screenings", `{}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decode[agent.View](t, w)
	assert.Equal(t, "s-1", v.SessionID)
	assert.Equal(t, agent.StateActive, v.State)
	assert.Equal(t, catalog.Default().Screening, ts.backend.seeds)

	w = ts.do(t, http.MethodPost, "/sessions/s-1/submit", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "please provide an answer")

	w = ts.do(t, http.MethodPut, "/sessions/s-1/draft", `{"text":"My chest hurts"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/sessions/s-1/submit", "")
	require.Equal(t, http.StatusOK, w.Code)
	v = decode[agent.View](t, w)
	assert.Equal(t, "How long has it hurt?", v.Question)
	assert.Len(t, v.History, 1)

	w = ts.do(t, http.MethodPut, "/sessions/s-1/draft", `{"text":"Two days"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/sessions/s-1/submit", "")
	require.Equal(t, http.StatusOK, w.Code)
	v = decode[agent.View](t, w)
	assert.Equal(t, agent.StateCompleted, v.State)
	assert.Equal(t, "cardiac", v.FormType)

	w = ts.do(t, http.MethodGet, "/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]records.Record](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "cardiac-voice", list[0].Type)
	assert.Equal(t, "s-1", list[0].VoiceSessionID)
	assert.Len(t, list[0].ConversationHistory, 2)

	w = ts.do(t, http.MethodDelete, "/records/"+list[0].ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/records/"+list[0].ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RemoteFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", `{}`).Code)
	ts.backend.fail = true

	ts.do(t, http.MethodPut, "/sessions/s-1/draft", `{"text":"answer"}`)
	w := ts.do(t, http.MethodPost, "/sessions/s-1/submit", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	v := decode[agent.View](t, ts.do(t, http.MethodGet, "/sessions/s-1", ""))
	assert.Equal(t, "answer", v.Draft)
	assert.Empty(t, v.History)
}

func TestServer_SessionErrors(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/sessions/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/screenings", `{"device_id":"nope"}`).Code)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", `{}`).Code)
	assert.Equal(t, http.StatusFailedDependency, ts.do(t, http.MethodPost, "/sessions/s-1/recording/start", "").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/sessions/s-1/recording/stop", "").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/sessions/s-1/skip", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/sessions/s-1/replay", "").Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/sessions/s-1", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/sessions/s-1", "").Code)
}

func TestServer_FormStartsFollowUp(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.questions = []string{"Any chest pain at rest?", "Do you smoke?"}

	w := ts.do(t, http.MethodPost, "/forms/cardiac", `{"form_data":{"smoker":"no"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[formResponse](t, w)
	assert.False(t, resp.Saved)
	require.NotNil(t, resp.Session)
	assert.Equal(t, agent.VariantFollowUp, resp.Session.Variant)
	assert.Equal(t, catalog.Default().FollowUpSeeds("cardiac"), ts.backend.seeds)

	ts.do(t, http.MethodPut, "/sessions/s-1/draft", `{"text":"no"}`)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sessions/s-1/submit", "").Code)

	w = ts.do(t, http.MethodPost, "/sessions/s-1/skip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agent.StateCompleted, decode[agent.View](t, w).State)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/forms/orthopedics", `{}`).Code)
}

func TestServer_Accounts(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/auth/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/records", "").Code)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/auth/signup", `{"email":"bad","password":"secret1"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/auth/signup", `{"email":"a@b.co","password":"123"}`).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/auth/signup", `{"email":"a@b.co","password":"secret1"}`).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/auth/signup", `{"email":"a@b.co","password":"secret1"}`).Code)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/auth/logout", "").Code)
	_, ok := ts.state.UserID()
	assert.False(t, ok)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/auth/login", `{"email":"a@b.co","password":"wrong12"}`).Code)
	w := ts.do(t, http.MethodPost, "/auth/login", `{"email":"a@b.co","password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@b.co", decode[records.User](t, w).Email)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/auth/me", "").Code)
}

func TestServer_TranscriptAndCatalog(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/sessions/s-1/transcript", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[backend.SessionTranscript](t, w).QAs, 1)
	assert.Equal(t, http.StatusBadGateway, ts.do(t, http.MethodGet, "/sessions/x/transcript", "").Code)

	w = ts.do(t, http.MethodGet, "/catalog", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Cardiology Clinic")
}

func TestServer_Devices(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/devices", "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]string](t, w)["device_id"]
	require.NotEmpty(t, id)

	w = ts.do(t, http.MethodPost, "/screenings", `{"device_id":"`+id+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusFailedDependency, ts.do(t, http.MethodPost, "/sessions/s-1/recording/start", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/devices/nope/ws", "").Code)
}

// connectBrowser registers a device and attaches a tab that grants the microphone
// and confirms every stop.
func connectBrowser(t *testing.T, ts *testServer) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/devices", "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]string](t, w)["device_id"]

	srv := httptest.NewServer(ts.srv.Router)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/devices/"+id+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var m struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			var reply string
			switch m.Type {
			case "mic-open":
				reply = `{"type":"mic-started","content_type":"audio/webm"}`
			case "mic-close":
				reply = `{"type":"mic-stopped"}`
			default:
				continue
			}
			if conn.WriteMessage(websocket.TextMessage, []byte(reply)) != nil {
				return
			}
		}
	}()

	d, ok := ts.srv.deps.Devices.Get(id)
	require.True(t, ok)
	require.Eventually(t, d.Connected, 2*time.Second, 5*time.Millisecond)
	return id
}

func TestServer_ClosingSessionReleasesMicrophone(t *testing.T) {
	ts := newTestServer(t)
	id := connectBrowser(t, ts)
	start := `{"device_id":"` + id + `"}`

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", start).Code)
	w := ts.do(t, http.MethodPost, "/sessions/s-1/recording/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/sessions/s-1", "").Code)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", start).Code)
	w = ts.do(t, http.MethodPost, "/sessions/s-1/recording/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a new session under the same id replaces the recording one
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", start).Code)
	w = ts.do(t, http.MethodPost, "/sessions/s-1/recording/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/sessions/s-1/recording/stop", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "heard")
}

func TestServer_CompletedSessionIsEvicted(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.questions = nil
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", `{}`).Code)
	ts.do(t, http.MethodPut, "/sessions/s-1/draft", `{"text":"fine"}`)

	w := ts.do(t, http.MethodPost, "/sessions/s-1/submit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agent.StateCompleted, decode[agent.View](t, w).State)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/sessions/s-1", "").Code)
}

func TestServer_ReplayReportsPlaybackNotice(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/devices", "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]string](t, w)["device_id"]
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/screenings", `{"device_id":"`+id+`"}`).Code)

	w = ts.do(t, http.MethodPost, "/sessions/s-1/replay", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["notice"], rtc.ErrNoDevice.Error())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(agent.ErrBusy))
	assert.Equal(t, http.StatusFailedDependency, statusFor(rtc.ErrPermissionDenied))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
