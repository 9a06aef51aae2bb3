package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"roomrelay/internal/core/domain"
	apperrors "roomrelay/pkg/errors"
	"roomrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/missing", func(c *gin.Context) { _ = c.Error(domain.ErrRoomNotFound) })
	router.GET("/forbidden", func(c *gin.Context) { _ = c.Error(domain.ErrNotAuthorized) })
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewConflictError("taken").WithContext("room_id", "r1"))
	})
	router.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("db exploded")) })
	router.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/missing", http.StatusNotFound, "NOT_FOUND"},
		{"/forbidden", http.StatusForbidden, "FORBIDDEN"},
		{"/app", http.StatusConflict, "CONFLICT"},
		{"/boom", http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"/written", http.StatusAccepted, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.status, w.Code)
			if tc.code != "" {
				assert.Contains(t, w.Body.String(), `"error":"`+tc.code+`"`)
			}
		})
	}

	failures := logs.FilterMessage("error_occurred").All()
	if assert.Len(t, failures, 1) {
		assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
		assert.Equal(t, "db exploded", failures[0].ContextMap()["error"])
	}
	assert.NotEmpty(t, logs.FilterMessage("request rejected").All())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.NotContains(t, w.Body.String(), "db exploded")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Contains(t, w.Body.String(), `"room_id":"r1"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("bad") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestLoggerMiddleware_SetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	core, logs := observer.New(zapcore.InfoLevel)
	router.Use(RequestLoggerMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "req-fixed")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-fixed", w.Header().Get(requestIDHeader))

	entries := logs.FilterMessage("http_request").All()
	if assert.Len(t, entries, 2) {
		fields := entries[1].ContextMap()
		assert.Equal(t, "req-fixed", fields["request_id"])
		assert.Equal(t, int64(http.StatusNoContent), fields["status_code"])
	}
}
