package model

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition marks a status change not permitted by the
// lifecycle tables. It signals a programming error on engine paths and a
// 409 on user-driven paths.
var ErrIllegalTransition = errors.New("illegal status transition")

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderAssigned  OrderStatus = "ASSIGNED"
	OrderPickedUp  OrderStatus = "PICKED_UP"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus maps a wire string to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderAssigned, OrderPickedUp, OrderDelivered, OrderCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Terminal reports whether no further transitions are legal.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// orderTransitions is the full table of legal order status changes.
// Every mutation of an order's status must consult it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:  {OrderAssigned, OrderCancelled},
	OrderAssigned: {OrderPickedUp, OrderCancelled},
	OrderPickedUp: {OrderDelivered},
}

// CanTransition reports whether from -> to is a legal order transition.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to, returning ErrIllegalTransition with
// context when the table forbids it.
func (s OrderStatus) Transition(to OrderStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: order %s -> %s", ErrIllegalTransition, s, to)
	}
	return nil
}

// BotStatus is the lifecycle state of a bot. PICKING_UP and DELIVERING are
// transient arrival states held only while an arrival is handled; the bot
// is recomputed to IDLE or MOVING before its tick commits.
type BotStatus string

const (
	BotIdle       BotStatus = "IDLE"
	BotMoving     BotStatus = "MOVING"
	BotPickingUp  BotStatus = "PICKING_UP"
	BotDelivering BotStatus = "DELIVERING"
)

// ParseBotStatus maps a wire string to a BotStatus.
func ParseBotStatus(s string) (BotStatus, error) {
	switch BotStatus(s) {
	case BotIdle, BotMoving, BotPickingUp, BotDelivering:
		return BotStatus(s), nil
	}
	return "", fmt.Errorf("unknown bot status %q", s)
}

var botTransitions = map[BotStatus][]BotStatus{
	BotIdle:       {BotMoving},
	BotMoving:     {BotIdle, BotPickingUp, BotDelivering},
	BotPickingUp:  {BotIdle, BotMoving},
	BotDelivering: {BotIdle, BotMoving},
}

// CanTransition reports whether from -> to is a legal bot transition.
// Same-state writes are permitted (no-op).
func (s BotStatus) CanTransition(to BotStatus) bool {
	if s == to {
		return true
	}
	for _, next := range botTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to for a bot.
func (s BotStatus) Transition(to BotStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: bot %s -> %s", ErrIllegalTransition, s, to)
	}
	return nil
}
