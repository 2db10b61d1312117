package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	return router, logs
}

func TestRequestLoggerCarriesActor(t *testing.T) {
	router, logs := newLoggedRouter(t)
	router.GET("/forms", func(c *gin.Context) {
		c.Set(ContextKeyEmail, "ops@example.com")
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forms?page=2", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/forms?page=2", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, "ops@example.com", fields["actor"])
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	router, logs := newLoggedRouter(t)
	router.GET("/denied", func(c *gin.Context) { c.Status(http.StatusForbidden) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/denied", nil))
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/broken", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)

	for _, e := range entries {
		assert.NotContains(t, e.ContextMap(), "actor", "anonymous requests log no actor")
	}
}

func TestRequestLoggerSkipsHealth(t *testing.T) {
	router, logs := newLoggedRouter(t)
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Zero(t, logs.Len())
}
