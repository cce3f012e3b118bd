package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shipyard/shipyard-server-go/internal/config"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"go.uber.org/zap"
)

// NewRouter serves the websocket endpoint, a health check and per-game analytics.
func NewRouter(cfg config.WebSocketConfig, hub *Hub, engine GameEngine, logger *zap.Logger) *mux.Router {
	path := cfg.Path
	if path == "" {
		path = "/ws"
	}

	r := mux.NewRouter()
	r.HandleFunc(path+"/{gameID}", hub.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}).Methods(http.MethodGet)
	r.HandleFunc("/games/{gameID}/analytics", func(w http.ResponseWriter, req *http.Request) {
		summary, err := engine.Analytics(mux.Vars(req)["gameID"])
		if errors.Is(err, game.ErrGameNotFound) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, summary, logger)
	}).Methods(http.MethodGet)
	return r
}

// NewHTTPServer wraps handler in a server listening on cfg.Address.
func NewHTTPServer(cfg config.WebSocketConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}
