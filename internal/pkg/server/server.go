// Package server exposes the bridge over HTTP: device listing, the same
// command path the MQTT control topics use, history queries and a live
// websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/internal/pkg/bridge"
	"github.com/anicoll/sonos-mqtt/internal/pkg/database"
	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/pkg/sockets"
)

type deviceLister interface {
	All() []model.DeviceState
}

type commandService interface {
	Resolve(selector string) (model.DeviceState, bool)
	Execute(selector, command string, payload json.RawMessage) (any, error)
}

type historyReader interface {
	StateHistory(ctx context.Context, id model.DeviceID, since time.Time, limit int) ([]database.StateRow, error)
}

type server struct {
	store   deviceLister
	bridge  commandService
	history historyReader
	hub     *sockets.Hub
	logger  *zap.Logger
}

// New builds the HTTP handler. history may be nil when no database is
// configured; tokenHash may be empty to disable auth.
func New(store deviceLister, cmd commandService, history historyReader, hub *sockets.Hub, tokenHash string) http.Handler {
	s := &server{
		store:   store,
		bridge:  cmd,
		history: history,
		hub:     hub,
		logger:  zap.L(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.listDevices)
	mux.HandleFunc("GET /devices/{selector}", s.getDevice)
	mux.HandleFunc("POST /devices/{selector}/{command}", s.postCommand)
	mux.HandleFunc("GET /devices/{selector}/history", s.getHistory)
	mux.HandleFunc("GET /ws", s.serveWs)

	return LoggingMiddleware(AuthMiddleware(tokenHash)(mux))
}

func (s *server) listDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

func (s *server) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.bridge.Resolve(r.PathValue("selector"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *server) postCommand(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		handleError(w, err)
		return
	}
	result, err := s.bridge.Execute(r.PathValue("selector"), r.PathValue("command"), payload)
	if errors.Is(err, bridge.ErrDeviceNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		handleError(w, err)
		return
	}
	if result == nil {
		result = map[string]string{"status": "ok"}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is not configured", http.StatusNotFound)
		return
	}
	dev, ok := s.bridge.Resolve(r.PathValue("selector"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := s.history.StateHistory(r.Context(), dev.ID, since, limit)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) serveWs(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Handle(w, r); err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}

func handleError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
