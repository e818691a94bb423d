package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/backend"
	"github.com/chadiek/prescreen/internal/records"
	"github.com/chadiek/prescreen/internal/rtc"
)

// newEcho creates a configured Echo instance.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler
	return e
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var remote *backend.RemoteError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, agent.ErrEmptyAnswer),
		errors.Is(err, records.ErrInvalidEmail),
		errors.Is(err, records.ErrWeakPassword):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agent.ErrInvalidState),
		errors.Is(err, agent.ErrBusy),
		errors.Is(err, agent.ErrRecording),
		errors.Is(err, records.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, agent.ErrMicrophone),
		errors.Is(err, rtc.ErrNoDevice),
		errors.Is(err, rtc.ErrPermissionDenied),
		errors.Is(err, rtc.ErrDeviceBusy):
		return http.StatusFailedDependency
	case errors.As(err, &remote), errors.Is(err, agent.ErrNoQuestion):
		return http.StatusBadGateway
	case errors.Is(err, records.ErrInvalidCredentials), errors.Is(err, records.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", status).Msg("request failed")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Error: msg})
}
