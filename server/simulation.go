package server

import "net/http"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Status(r.Context()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Start(r.Context()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Stop(r.Context()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Reset(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleTick advances the simulation one step by hand. While the
// simulation is stopped this reports state without advancing.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Tick(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	pos, err := s.eng.Positions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}
