package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/eagroute/go-eagroute/engine"
	"github.com/eagroute/go-eagroute/model"
)

type createOrderRequest struct {
	RestaurantID   int64 `json:"restaurant_id"`
	DeliveryNodeID int64 `json:"delivery_node_id"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	o, err := s.eng.CreateOrder(r.Context(), req.RestaurantID, req.DeliveryNodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *model.OrderStatus
	if raw := q.Get("status"); raw != "" {
		parsed, err := model.ParseOrderStatus(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
			return
		}
		status = &parsed
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", engine.ErrInvalidInput))
			return
		}
		limit = n
	}

	orders, err := s.st.ListOrders(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	o, err := s.st.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

type updateOrderRequest struct {
	DeliveryNodeID *int64  `json:"delivery_node_id"`
	Status         *string `json:"status"`
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateOrderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DeliveryNodeID == nil && req.Status == nil {
		s.writeError(w, fmt.Errorf("%w: nothing to update", engine.ErrInvalidInput))
		return
	}

	var status *model.OrderStatus
	if req.Status != nil {
		parsed, err := model.ParseOrderStatus(*req.Status)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err))
			return
		}
		status = &parsed
	}

	o, err := s.eng.UpdateOrder(r.Context(), id, req.DeliveryNodeID, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	o, err := s.eng.CancelOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.st.GetOrder(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	hist, err := s.st.OrderHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []model.StatusChange{}
	}
	s.writeJSON(w, http.StatusOK, hist)
}
