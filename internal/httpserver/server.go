package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/auth"
	"github.com/chadiek/prescreen/internal/backend"
	"github.com/chadiek/prescreen/internal/catalog"
	"github.com/chadiek/prescreen/internal/middleware"
	"github.com/chadiek/prescreen/internal/records"
	"github.com/chadiek/prescreen/internal/rtc"
	"github.com/chadiek/prescreen/internal/speech"
	"github.com/chadiek/prescreen/internal/usecase"
)

const defaultPatientLabel = "Patient"

// Backend is everything the shell needs from the intake backend.
type Backend interface {
	agent.Conversation
	agent.Transcriber
	speech.RemoteSynthesizer
	FetchSession(ctx context.Context, sessionID string) (backend.SessionTranscript, error)
}

// Deps wires the shell. Synth may be nil.
type Deps struct {
	Backend   Backend
	Catalog   *catalog.Catalog
	Auth      *auth.State
	Store     records.Store
	Intake    usecase.IntakeService
	Devices   *rtc.Registry
	Synth     speech.Synthesizer
	VoicePref speech.VoicePreference
	Policy    agent.FollowUpPolicy
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router   http.Handler
	deps     Deps
	sessions *sessionTable
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	e := newEcho()
	s := &Server{Router: e, deps: deps, sessions: newSessionTable()}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/catalog", s.getCatalog)

	e.POST("/auth/signup", s.signUp)
	e.POST("/auth/login", s.login)
	e.POST("/auth/logout", s.logout)
	e.GET("/auth/me", s.me)

	rec := e.Group("/records", middleware.RequireUser(deps.Auth))
	rec.GET("", s.listRecords)
	rec.DELETE("/:id", s.deleteRecord)

	e.POST("/devices", s.createDevice)
	e.GET("/devices/:id/ws", s.deviceSocket)

	e.POST("/screenings", s.startScreening)
	e.POST("/forms/:category", s.submitForm)

	e.GET("/sessions/:id", s.getSession)
	e.DELETE("/sessions/:id", s.closeSession)
	e.GET("/sessions/:id/transcript", s.getTranscript)
	e.POST("/sessions/:id/recording/start", s.startRecording)
	e.POST("/sessions/:id/recording/stop", s.stopRecording)
	e.PUT("/sessions/:id/draft", s.editDraft)
	e.POST("/sessions/:id/submit", s.submit)
	e.POST("/sessions/:id/replay", s.replay)
	e.POST("/sessions/:id/skip", s.skip)

	return s
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) signUp(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	u, err := s.deps.Auth.SignUp(c.Request().Context(), req.Email, req.Password, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (s *Server) login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	u, err := s.deps.Auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) logout(c echo.Context) error {
	if err := s.deps.Auth.Logout(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) me(c echo.Context) error {
	u, ok := s.deps.Auth.User()
	if !ok {
		return records.ErrNotLoggedIn
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) listRecords(c echo.Context) error {
	list, err := s.deps.Store.List(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	if list == nil {
		list = []records.Record{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) deleteRecord(c echo.Context) error {
	if err := s.deps.Store.Delete(c.Request().Context(), middleware.UserID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type categoryView struct {
	Name     string   `json:"name"`
	Clinic   string   `json:"clinic"`
	FormType string   `json:"form_type"`
	FollowUp []string `json:"followup_questions"`
}

func (s *Server) getCatalog(c echo.Context) error {
	out := make([]categoryView, 0, len(s.deps.Catalog.Categories))
	for name, cat := range s.deps.Catalog.Categories {
		out = append(out, categoryView{Name: name, Clinic: cat.Clinic, FormType: cat.FormType, FollowUp: s.deps.Catalog.FollowUpSeeds(name)})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"default_category":    s.deps.Catalog.DefaultCategory,
		"screening_questions": s.deps.Catalog.Screening,
		"categories":          out,
	})
}

func (s *Server) createDevice(c echo.Context) error {
	d := s.deps.Devices.Create()
	return c.JSON(http.StatusCreated, map[string]string{"device_id": d.ID})
}

func (s *Server) deviceSocket(c echo.Context) error {
	d, ok := s.deps.Devices.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "device not found")
	}
	d.ServeWebSocket(c.Response(), c.Request())
	return nil
}

// controllerDeps builds the collaborators for one session. Without a device the
// session is silent and can only be answered by typing.
func (s *Server) controllerDeps(deviceID string) (agent.Deps, error) {
	deps := agent.Deps{Conversation: s.deps.Backend, Transcriber: s.deps.Backend}
	if deviceID == "" {
		return deps, nil
	}
	d, ok := s.deps.Devices.Get(deviceID)
	if !ok {
		return agent.Deps{}, echo.NewHTTPError(http.StatusNotFound, "device not found")
	}
	deps.Speaker = backgroundSpeaker{speaker: speech.NewSpeaker(s.deps.Synth, s.deps.Backend, d, s.deps.VoicePref)}
	deps.Recorder = speech.NewRecorder(d)
	return deps, nil
}

func (s *Server) patientLabel(requested string) string {
	if l := strings.TrimSpace(requested); l != "" {
		return l
	}
	if u, ok := s.deps.Auth.User(); ok && u.Name != "" {
		return u.Name
	}
	return defaultPatientLabel
}

type screeningRequest struct {
	DeviceID        string   `json:"device_id"`
	PatientLabel    string   `json:"patient_label"`
	DomainQuestions []string `json:"domain_questions"`
}

func (s *Server) startScreening(c echo.Context) error {
	var req screeningRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	deps, err := s.controllerDeps(req.DeviceID)
	if err != nil {
		return err
	}
	seeds := req.DomainQuestions
	if seeds == nil {
		seeds = s.deps.Catalog.Screening
	}
	sc := agent.NewScreening(deps, s.deps.Intake.OnComplete)
	if err := sc.Start(c.Request().Context(), s.patientLabel(req.PatientLabel), seeds); err != nil {
		return err
	}
	s.sessions.put(sc)
	return c.JSON(http.StatusCreated, sc.View())
}

type formRequest struct {
	DeviceID     string         `json:"device_id"`
	PatientLabel string         `json:"patient_label"`
	FormData     map[string]any `json:"form_data"`
}

type formResponse struct {
	Saved         bool            `json:"saved"`
	Record        *records.Record `json:"record,omitempty"`
	Session       *agent.View     `json:"session,omitempty"`
	FollowUpError string          `json:"followup_error,omitempty"`
}

// submitForm stores a written form and opens its follow-up section.
func (s *Server) submitForm(c echo.Context) error {
	var req formRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	cat, ok := s.deps.Catalog.Lookup(c.Param("category"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown form category")
	}
	deps, err := s.controllerDeps(req.DeviceID)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var resp formResponse
	rec, saved, err := s.deps.Intake.FormSubmitted(ctx, cat.Name, req.FormData)
	if err != nil {
		return err
	}
	if saved {
		resp.Saved, resp.Record = true, &rec
	}

	fu, err := agent.StartFollowUp(ctx, deps, agent.FollowUpConfig{
		PatientLabel: s.patientLabel(req.PatientLabel),
		Category:     cat.Name,
		Seeds:        s.deps.Catalog.FollowUpSeeds(cat.Name),
		FormData:     req.FormData,
		Policy:       s.deps.Policy,
	}, s.deps.Intake.OnComplete)
	if err != nil {
		resp.FollowUpError = err.Error()
		return c.JSON(http.StatusCreated, resp)
	}
	s.sessions.put(fu)
	v := fu.View()
	resp.Session = &v
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) session(c echo.Context) (agent.Controller, error) {
	ctl, ok := s.sessions.get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return ctl, nil
}

func (s *Server) getSession(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctl.View())
}

func (s *Server) closeSession(c echo.Context) error {
	if !s.sessions.remove(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getTranscript(c echo.Context) error {
	out, err := s.deps.Backend.FetchSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) startRecording(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	if err := ctl.StartRecording(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctl.View())
}

func (s *Server) stopRecording(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	text, err := ctl.StopRecording(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transcript": text, "session": ctl.View()})
}

type draftRequest struct {
	Text string `json:"text"`
}

func (s *Server) editDraft(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := ctl.EditAnswer(req.Text); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctl.View())
}

func (s *Server) submit(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	if err := ctl.SubmitAnswer(c.Request().Context()); err != nil {
		return err
	}
	v := ctl.View()
	s.sessions.evictCompleted(ctl)
	return c.JSON(http.StatusOK, v)
}

func (s *Server) replay(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	err = ctl.ReplayQuestion(inForeground(c.Request().Context()))
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, agent.ErrInvalidState):
		return err
	default:
		log.Warn().Err(err).Str("session_id", c.Param("id")).Msg("replay question failed")
		return c.JSON(http.StatusOK, map[string]string{"notice": err.Error()})
	}
}

func (s *Server) skip(c echo.Context) error {
	ctl, err := s.session(c)
	if err != nil {
		return err
	}
	fu, ok := ctl.(*agent.FollowUp)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "only follow-up sections can be skipped")
	}
	if err := fu.Skip(c.Request().Context()); err != nil {
		return err
	}
	v := fu.View()
	s.sessions.evictCompleted(fu)
	return c.JSON(http.StatusOK, v)
}
