package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-replay/internal/auth"
	"github.com/ukydev/fleet-replay/internal/config"
	"github.com/ukydev/fleet-replay/internal/fleet"
	"github.com/ukydev/fleet-replay/internal/loader"
	"github.com/ukydev/fleet-replay/internal/logging"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/playback"
)

func writeTrips(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	trips := map[string][]models.Event{
		"a.json": {
			{EventType: models.EventTripStarted, Timestamp: "2025-11-03T08:00:00Z", PlannedDistanceKm: models.Float(100)},
			{EventType: models.EventLocationPing, Timestamp: "2025-11-03T08:01:00Z", DistanceTravelledKm: models.Float(50)},
			{EventType: models.EventTripCompleted, Timestamp: "2025-11-03T08:02:00Z", TotalDistanceKm: models.Float(100)},
		},
		"b.json": {
			{EventType: models.EventTripStarted, Timestamp: "2025-11-03T08:00:30Z"},
			{EventType: models.EventTripCancelled, Timestamp: "2025-11-03T08:01:30Z", CancellationReason: models.String("mechanical_failure")},
		},
	}
	for name, events := range trips {
		data, err := json.Marshal(events)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	require.NoError(t, loader.WriteManifest(filepath.Join(dir, "trips.yaml"), &loader.Manifest{Trips: []models.TripMetadata{
		{ID: "A", File: "a.json", Name: "Trip A"},
		{ID: "B", File: "b.json", Name: "Trip B"},
	}}))
	return dir
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	hash, err := auth.HashPassword("operator-pass")
	require.NoError(t, err)
	return &config.Config{
		Port:                 "0",
		TripSource:           config.SourceFile,
		TripDataDir:          dir,
		TripManifest:         "trips.yaml",
		BaseInterval:         50 * time.Millisecond,
		Speed:                1,
		JWTSecret:            "test-secret",
		JWTExpiry:            time.Hour,
		OperatorUsername:     "operator",
		OperatorPasswordHash: hash,
		ViewerUsername:       "viewer",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := testConfig(t, writeTrips(t))
	src, closeSource, err := openSource(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(closeSource)

	a, err := newApp(context.Background(), cfg, src, playback.NewManualScheduler(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	body := `{"username":"operator","password":"operator-pass"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, models.RoleOperator, resp.Role)
	return resp.Token
}

func TestApp_ReplayOverHTTP(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a.handler)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/playback/skip", `{"index":5}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/api/fleet", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap fleet.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, 5, snap.Cursor)
	assert.Equal(t, "50.0", snap.Fleet.CompletionRate)
	assert.Equal(t, "Trip A", snap.Trips[0].Name)

	w = do(http.MethodGet, "/api/trips/B", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Trip cancelled: mechanical_failure")

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "fleet_replay_cursor 5"))
}

func TestApp_ViewerLoginDisabledWithoutHash(t *testing.T) {
	a := newTestApp(t)
	body := `{"username":"viewer","password":""}`
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenSource_Errors(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	_, _, err := openSource(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)

	cfg.TripSource = config.SourceMongo
	cfg.MongoURI = "mongodb://bad:uri"
	_, _, err = openSource(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestNewApp_InvalidTimestamp(t *testing.T) {
	dir := writeTrips(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[{"event_type":"trip_started","timestamp":"yesterday"}]`), 0o644))
	cfg := testConfig(t, dir)
	src, closeSource, err := openSource(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer closeSource()

	_, err = newApp(context.Background(), cfg, src, playback.NewManualScheduler(), logging.Discard())
	assert.ErrorContains(t, err, "merge timeline")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t, writeTrips(t))
	cfg.Autoplay = true
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logging.Discard()) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
