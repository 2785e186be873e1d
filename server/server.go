// Package server exposes the simulation over HTTP: grid and fleet
// queries, order management, simulation control, and a websocket stream
// of live bot positions.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eagroute/go-eagroute/config"
	"github.com/eagroute/go-eagroute/engine"
	"github.com/eagroute/go-eagroute/grid"
	"github.com/eagroute/go-eagroute/store"
)

// Server wires the HTTP surface to the engine and store.
type Server struct {
	cfg config.Config
	st  *store.Store
	eng *engine.Engine
	g   *grid.Grid
	log zerolog.Logger
	hub *Hub
	mux *http.ServeMux
}

// New builds the server and installs the engine publisher that feeds the
// websocket stream.
func New(cfg config.Config, st *store.Store, eng *engine.Engine, g *grid.Grid, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		st:  st,
		eng: eng,
		g:   g,
		log: log.With().Str("component", "server").Logger(),
		hub: NewHub(cfg.AllowedOrigins, log),
		mux: http.NewServeMux(),
	}
	s.routes()

	eng.SetPublisher(func(pos []engine.BotPosition) {
		s.hub.Broadcast(positionsMessage{Type: "positions", Bots: pos})
	})
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("GET /api/grid/nodes", s.handleNodes)
	s.mux.HandleFunc("GET /api/grid/nodes/{id}", s.handleNode)
	s.mux.HandleFunc("GET /api/grid/restaurants", s.handleRestaurants)
	s.mux.HandleFunc("GET /api/grid/delivery-points", s.handleDeliveryPoints)
	s.mux.HandleFunc("GET /api/grid/blocked-edges", s.handleBlockedEdges)

	s.mux.HandleFunc("GET /api/bots", s.handleBots)
	s.mux.HandleFunc("GET /api/bots/{id}", s.handleBot)
	s.mux.HandleFunc("GET /api/bots/{id}/orders", s.handleBotOrders)

	s.mux.HandleFunc("GET /api/orders", s.handleListOrders)
	s.mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	s.mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	s.mux.HandleFunc("PUT /api/orders/{id}", s.handleUpdateOrder)
	s.mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	s.mux.HandleFunc("GET /api/orders/{id}/history", s.handleOrderHistory)

	s.mux.HandleFunc("GET /api/simulation/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/simulation/start", s.handleStart)
	s.mux.HandleFunc("POST /api/simulation/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/simulation/reset", s.handleReset)
	s.mux.HandleFunc("POST /api/simulation/tick", s.handleTick)
	s.mux.HandleFunc("GET /api/simulation/bots/positions", s.handlePositions)
	s.mux.HandleFunc("GET /api/simulation/ws", s.hub.ServeWS)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.limitBody(h)
	h = s.secureHeaders(h)
	h = s.cors(h)
	h = s.logRequests(h)
	return h
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps engine sentinels onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrThrottled):
		code = http.StatusTooManyRequests
	case errors.Is(err, engine.ErrIllegalTransition):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidInput):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, code, errorBody{Error: http.StatusText(code), Detail: err.Error()})
}

// decodeJSON reads a request body, distinguishing an oversized body (413)
// from malformed JSON (400).
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge,
				errorBody{Error: http.StatusText(http.StatusRequestEntityTooLarge)})
			return false
		}
		s.writeJSON(w, http.StatusBadRequest,
			errorBody{Error: http.StatusText(http.StatusBadRequest), Detail: "malformed JSON body"})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "eagroute"})
}
