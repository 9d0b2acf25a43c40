package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Debug("hello")
	require.NoError(t, logger.Sync())
	assert.FileExists(t, path)
}

func TestFromContext(t *testing.T) {
	// Missing logger falls back to a no-op, never nil.
	assert.NotNil(t, FromContext(context.Background()))

	fallback := zap.NewExample()
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))

	stored := zap.NewNop()
	ctx := WithContext(context.Background(), stored)
	assert.Same(t, stored, FromContextOr(ctx, fallback))
}

func TestMiddleware_LogsStatusAndInjectsLogger(t *testing.T) {
	// GIVEN: A router with RequestID and the logging middleware
	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Middleware(zap.New(core)))

	var sawLogger bool
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		sawLogger = true
		w.WriteHeader(http.StatusNotFound)
	})

	// WHEN: A request returns 404
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing?x=1", nil))

	// THEN: The handler logged through the request logger and the access
	// line is a warning carrying the status
	require.True(t, sawLogger)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "inside handler", entries[0].Message)
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])

	access := entries[1]
	assert.Equal(t, zapcore.WarnLevel, access.Level)
	assert.Equal(t, int64(http.StatusNotFound), access.ContextMap()["status"])
	assert.Equal(t, "x=1", access.ContextMap()["query"])
}
