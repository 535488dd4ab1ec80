package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/fleet"
	"github.com/ukydev/fleet-replay/internal/middleware"
)

const defaultEventLimit = 50

// FleetController is the part of the fleet facade served over HTTP
type FleetController interface {
	Play()
	Pause()
	Reset()
	SkipTo(index int)
	SetSpeed(multiplier float64) error
	Snapshot() fleet.Snapshot
	TripDetails(tripID string) (fleet.TripDetails, error)
	CurrentEvents(limit int) []fleet.EventView
}

// PlaybackHandler serves fleet views and playback controls
type PlaybackHandler struct {
	fleet  FleetController
	logger logrus.FieldLogger
}

// NewPlaybackHandler creates a new playback handler
func NewPlaybackHandler(fc FleetController, logger logrus.FieldLogger) *PlaybackHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PlaybackHandler{fleet: fc, logger: logger}
}

// Fleet returns the current snapshot
func (h *PlaybackHandler) Fleet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

// Trip returns the drill-down view of one trip
func (h *PlaybackHandler) Trip(w http.ResponseWriter, r *http.Request) {
	details, err := h.fleet.TripDetails(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrUnknownTrip) {
			http.Error(w, "Trip not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load trip", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// Events returns the most recently revealed events
func (h *PlaybackHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.fleet.CurrentEvents(limit))
}

// Play starts playback
func (h *PlaybackHandler) Play(w http.ResponseWriter, r *http.Request) {
	h.fleet.Play()
	h.audit(r, "play")
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

// Pause pauses playback
func (h *PlaybackHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.fleet.Pause()
	h.audit(r, "pause")
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

// Reset rewinds playback
func (h *PlaybackHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.fleet.Reset()
	h.audit(r, "reset")
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

// SkipRequest is the body of a skip request
type SkipRequest struct {
	Index *int `json:"index"`
}

// Skip seeks to an entry index
func (h *PlaybackHandler) Skip(w http.ResponseWriter, r *http.Request) {
	var req SkipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Index == nil {
		http.Error(w, "index is required", http.StatusBadRequest)
		return
	}
	h.fleet.SkipTo(*req.Index)
	h.audit(r, "skip")
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

// SpeedRequest is the body of a speed request
type SpeedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

// Speed changes the playback speed
func (h *PlaybackHandler) Speed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.fleet.SetSpeed(req.Multiplier); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.audit(r, "speed")
	writeJSON(w, http.StatusOK, h.fleet.Snapshot())
}

func (h *PlaybackHandler) audit(r *http.Request, action string) {
	entry := h.logger.WithField("action", action)
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		entry = entry.WithField("user", claims.Username)
	}
	entry.Info("Playback control")
}
