// Package model defines the persistent entities of the delivery simulation
// and the legal lifecycle transitions for orders and bots.
package model

import "time"

// Node is one intersection of the grid town. (X, Y) is unique and nodes are
// immutable after bootstrap.
type Node struct {
	ID              int64 `json:"id"`
	X               int   `json:"x"`
	Y               int   `json:"y"`
	IsDeliveryPoint bool  `json:"is_delivery_point"`
}

// Restaurant is a pickup location anchored to exactly one node.
type Restaurant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	NodeID int64  `json:"node_id"`
}

// BlockedEdge is an unordered node pair no bot may traverse in either
// direction.
type BlockedEdge struct {
	FromNodeID int64 `json:"from_node_id"`
	ToNodeID   int64 `json:"to_node_id"`
}

// Bot is one delivery robot of the fleet.
type Bot struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Status        BotStatus `json:"status"`
	CurrentNodeID int64     `json:"current_node_id"`
	MaxCapacity   int       `json:"max_capacity"`
}

// Order is one customer order from creation through delivery or
// cancellation. PickupNodeID is fixed at creation from the restaurant;
// DeliveryNodeID may change only while the order is PENDING.
type Order struct {
	ID             int64       `json:"id"`
	RestaurantID   int64       `json:"restaurant_id"`
	PickupNodeID   int64       `json:"pickup_node_id"`
	DeliveryNodeID int64       `json:"delivery_node_id"`
	BotID          *int64      `json:"bot_id"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	AssignedAt     *time.Time  `json:"assigned_at"`
	PickedUpAt     *time.Time  `json:"picked_up_at"`
	DeliveredAt    *time.Time  `json:"delivered_at"`
}

// Active reports whether the order counts toward its bot's capacity.
func (o *Order) Active() bool {
	return o.Status == OrderAssigned || o.Status == OrderPickedUp
}

// StatusChange is one row of the append-only order audit trail. The store
// writes these automatically on every order status change; OldStatus is
// empty for the creation row.
type StatusChange struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
	NewStatus OrderStatus `json:"new_status"`
	ChangedAt time.Time   `json:"changed_at"`
}
