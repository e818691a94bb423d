package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identity string

func (i identity) UserID() (string, bool) { return string(i), i != "" }

func TestRequireUser(t *testing.T) {
	handler := func(c echo.Context) error { return c.String(http.StatusOK, UserID(c)) }

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/records", nil), rec)
	require.NoError(t, RequireUser(identity(""))(handler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/records", nil), rec)
	require.NoError(t, RequireUser(identity("u-1"))(handler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}
