package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reqcontext "github.com/Ramsey-B/fern/pkg/context"
)

func captureLogger() (ectologger.Logger, *[]ectologger.EctoLogMessage) {
	var messages []ectologger.EctoLogMessage
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		messages = append(messages, msg)
	})
	return logger, &messages
}

func TestContext_AssignsRequestID(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var requestID string
	e.GET("/", func(c echo.Context) error {
		requestID = reqcontext.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, requestID)
}

func TestContext_KeepsCallerRequestID(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var requestID string
	e.GET("/", func(c echo.Context) error {
		requestID = reqcontext.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	e.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-123", requestID)
}

func TestLogger_EmitsOneEntryPerRequest(t *testing.T) {
	logger, messages := captureLogger()

	e := echo.New()
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/widgets", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widgets", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *messages, 1)
	entry := (*messages)[0]
	assert.Equal(t, "Request", entry.Message)
	assert.Equal(t, http.MethodGet, entry.Fields["method"])
	assert.Equal(t, "/widgets", entry.Fields["route"])
	assert.NotEmpty(t, entry.Fields["request_id"])
}

func TestError_RendersTypedErrors(t *testing.T) {
	logger, messages := captureLogger()

	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.GET("/conflict", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusConflict, "value already attached to a customer")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflict", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "value already attached to a customer")
	assert.Contains(t, rec.Body.String(), "request_id")
	require.NotEmpty(t, *messages)
}

func TestError_OpaqueErrorsBecome500(t *testing.T) {
	logger, _ := captureLogger()

	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.GET("/boom", func(c echo.Context) error {
		return assert.AnError
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
