package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/eagroute/go-eagroute/engine"
	"github.com/eagroute/go-eagroute/grid"
	"github.com/eagroute/go-eagroute/model"
)

// nodeView is a node with its street address label.
type nodeView struct {
	model.Node
	Address string `json:"address"`
}

func nodeViews(nodes []model.Node) []nodeView {
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeView{Node: n, Address: grid.Address(n.X, n.Y)})
	}
	return out
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id must be an integer", engine.ErrInvalidInput)
	}
	return id, nil
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodes, err := s.st.ListNodes(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	restaurants, err := s.st.ListRestaurants(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blocked, err := s.st.ListBlockedEdges(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	points, err := s.st.ListDeliveryPoints(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"nodes":           nodeViews(nodes),
		"restaurants":     restaurants,
		"blocked_edges":   blocked,
		"delivery_points": nodeViews(points),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.st.ListNodes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodeViews(nodes))
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.st.GetNode(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodeView{Node: n, Address: grid.Address(n.X, n.Y)})
}

func (s *Server) handleRestaurants(w http.ResponseWriter, r *http.Request) {
	restaurants, err := s.st.ListRestaurants(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, restaurants)
}

func (s *Server) handleDeliveryPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.st.ListDeliveryPoints(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodeViews(points))
}

func (s *Server) handleBlockedEdges(w http.ResponseWriter, r *http.Request) {
	blocked, err := s.st.ListBlockedEdges(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, blocked)
}

// botView is a bot with its live load.
type botView struct {
	model.Bot
	ActiveOrders      int `json:"active_orders"`
	AvailableCapacity int `json:"available_capacity"`
}

func (s *Server) botView(r *http.Request, b model.Bot) (botView, error) {
	n, err := s.st.CountActiveByBot(r.Context(), b.ID)
	if err != nil {
		return botView{}, err
	}
	return botView{Bot: b, ActiveOrders: n, AvailableCapacity: b.MaxCapacity - n}, nil
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.st.ListBots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]botView, 0, len(bots))
	for _, b := range bots {
		v, err := s.botView(r, b)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.st.GetBot(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.botView(r, b)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBotOrders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.st.GetBot(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	orders, err := s.st.ActiveOrdersByBot(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}
