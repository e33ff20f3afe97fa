package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/config"
	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/http/middleware"
)

const testSecret = "supersecret"

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Environment:          "test",
		ServerAddress:        ":0",
		JWTSecret:            testSecret,
		DatabaseDriver:       db.DriverSQLite,
		DatabaseURL:          filepath.Join(dir, "inkframe.db"),
		UploadDir:            filepath.Join(dir, "uploads"),
		DisplayDriver:        config.DisplayDriverFile,
		DisplayDir:           filepath.Join(dir, "display"),
		Location:             time.UTC,
		WeekStart:            time.Monday,
		SchedulerInterval:    time.Minute,
		HealthRefreshAt:      "03:00",
		GeneratorTimeout:     time.Second,
		ErrorArtifactTTL:     time.Minute,
		CacheCapacity:        8,
		PushTimeout:          time.Second,
		PushMaxRetries:       1,
		PushBackoff:          time.Millisecond,
		PlaylistDefaultDwell: time.Hour,
		OnGenerationFailure:  "push",
		DisplayWidth:         800,
		DisplayHeight:        480,
	}
}

func newTestServer(t *testing.T) *server {
	srv, err := newServer(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func do(t *testing.T, srv *server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthzIsPublic(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["display"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestControlAPIRequiresToken(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/display/health", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.GenerateJWT("dashboard", testSecret, time.Hour)
	require.NoError(t, err)

	w = do(t, srv, http.MethodGet, "/api/display/health", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerWithEmptyScheduleReportsNoContent(t *testing.T) {
	srv := newTestServer(t)
	token, err := middleware.GenerateJWT("dashboard", testSecret, time.Hour)
	require.NoError(t, err)

	w := do(t, srv, http.MethodPost, "/api/display/trigger", token)
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "no_content", res["outcome"])
	assert.Equal(t, "manual", res["reason"])
}

func TestNewServerRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisplayDriver = "hdmi"

	_, err := newServer(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown display driver")
}
