package engine

import (
	"context"
	"fmt"

	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

// CreateOrder validates and persists a new order, subject to the
// restaurant's wall-clock admission window, then immediately tries to
// assign it to the least-loaded bot. The pickup node is the restaurant's
// node; the delivery node must be a designated delivery point.
func (e *Engine) CreateOrder(ctx context.Context, restaurantID, deliveryNodeID int64) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out model.Order
	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		r, err := tx.GetRestaurant(ctx, restaurantID)
		if err != nil {
			return err
		}
		node, err := tx.GetNode(ctx, deliveryNodeID)
		if err != nil {
			return fmt.Errorf("%w: delivery node %d does not exist", ErrInvalidInput, deliveryNodeID)
		}
		if !node.IsDeliveryPoint {
			return fmt.Errorf("%w: node %d is not a delivery point", ErrInvalidInput, deliveryNodeID)
		}

		if !e.createThrottle.Allow(r.ID, e.now().Unix()) {
			return fmt.Errorf("%w: restaurant %d", ErrThrottled, r.ID)
		}

		o, err := tx.CreateOrder(ctx, r.ID, r.NodeID, node.ID)
		if err != nil {
			return err
		}
		if err := e.eagerAssign(ctx, tx, &o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	// Record admission only after the create committed.
	e.createThrottle.Record(out.RestaurantID, e.now().Unix())
	e.log.Info().Int64("order", out.ID).Int64("restaurant", out.RestaurantID).
		Msg("order created")
	return out, nil
}

// eagerAssign binds a fresh order to the least-loaded bot that has
// capacity and a path to the pickup node, ties to the lowest bot id. It
// skips the planner's tick window: creation already passed the wall-clock
// window. If no bot fits, the order stays PENDING for the planner.
func (e *Engine) eagerAssign(ctx context.Context, tx *store.Tx, o *model.Order) error {
	bots, err := tx.ListBots(ctx)
	if err != nil {
		return err
	}
	var (
		best     *model.Bot
		bestLoad int
	)
	for i := range bots {
		b := &bots[i]
		if !assignable(*b) {
			continue
		}
		load, err := tx.CountActiveByBot(ctx, b.ID)
		if err != nil {
			return err
		}
		if load >= b.MaxCapacity {
			continue
		}
		if _, ok := e.g.PathLength(b.CurrentNodeID, o.PickupNodeID); !ok {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = b, load
		}
	}
	if best == nil {
		return nil
	}

	if err := o.Status.Transition(model.OrderAssigned); err != nil {
		return err
	}
	if err := tx.AssignOrder(ctx, o.ID, best.ID, e.now()); err != nil {
		return err
	}
	// The bot is on duty as soon as it holds an order; the next tick
	// plans the actual route.
	if err := e.setBotStatus(ctx, tx, *best, model.BotMoving); err != nil {
		return err
	}
	updated, err := tx.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	*o = updated
	e.log.Debug().Int64("order", o.ID).Int64("bot", best.ID).Msg("order eagerly assigned")
	return nil
}

// UpdateOrder changes an order's delivery node, its status, or both.
// Delivery node changes are legal only while the order is PENDING. Status
// changes must be legal per the lifecycle table; PENDING and ASSIGNED
// targets are rejected because assignment is engine-driven.
func (e *Engine) UpdateOrder(ctx context.Context, id int64, deliveryNodeID *int64, status *model.OrderStatus) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out model.Order
	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}

		if deliveryNodeID != nil {
			if o.Status != model.OrderPending {
				return fmt.Errorf("%w: delivery node is fixed once order %d left PENDING", ErrIllegalTransition, id)
			}
			node, err := tx.GetNode(ctx, *deliveryNodeID)
			if err != nil {
				return fmt.Errorf("%w: delivery node %d does not exist", ErrInvalidInput, *deliveryNodeID)
			}
			if !node.IsDeliveryPoint {
				return fmt.Errorf("%w: node %d is not a delivery point", ErrInvalidInput, node.ID)
			}
			if err := tx.UpdateDeliveryNode(ctx, id, node.ID); err != nil {
				return err
			}
		}

		if status != nil && *status != o.Status {
			switch *status {
			case model.OrderPending, model.OrderAssigned:
				return fmt.Errorf("%w: status %s is engine-driven", ErrInvalidInput, *status)
			case model.OrderCancelled:
				if err := e.cancelLocked(ctx, tx, &o); err != nil {
					return err
				}
			default:
				if err := o.Status.Transition(*status); err != nil {
					return err
				}
				if err := tx.SetOrderStatus(ctx, id, *status, e.now()); err != nil {
					return err
				}
				if *status == model.OrderDelivered && o.BotID != nil {
					if err := e.releaseBot(ctx, tx, *o.BotID, id); err != nil {
						return err
					}
				}
			}
		}

		out, err = tx.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// CancelOrder cancels an order from PENDING or ASSIGNED; a PICKED_UP order
// is past the point of no return. Cancelling an ASSIGNED order frees its
// bot if nothing else is on board.
func (e *Engine) CancelOrder(ctx context.Context, id int64) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out model.Order
	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := e.cancelLocked(ctx, tx, &o); err != nil {
			return err
		}
		out, err = tx.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	e.log.Info().Int64("order", id).Msg("order cancelled")
	return out, nil
}

func (e *Engine) cancelLocked(ctx context.Context, tx *store.Tx, o *model.Order) error {
	if err := o.Status.Transition(model.OrderCancelled); err != nil {
		return err
	}
	if err := tx.SetOrderStatus(ctx, o.ID, model.OrderCancelled, e.now()); err != nil {
		return err
	}
	if o.BotID != nil {
		if err := e.releaseBot(ctx, tx, *o.BotID, o.ID); err != nil {
			return err
		}
	}
	return nil
}

// releaseBot invalidates the bot's current route after an order left its
// load out of band; the bot goes IDLE if nothing else is on board, and the
// next tick replans either way.
func (e *Engine) releaseBot(ctx context.Context, tx *store.Tx, botID, excludeOrderID int64) error {
	delete(e.routes, botID)
	delete(e.targets, botID)

	remaining, err := tx.CountActiveByBotExcluding(ctx, botID, excludeOrderID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	b, err := tx.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	return e.setBotStatus(ctx, tx, b, model.BotIdle)
}
