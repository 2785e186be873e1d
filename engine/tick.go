package engine

import (
	"context"
	"fmt"

	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

// TickResult is the outcome of one tick: the post-tick snapshot plus
// counts of what the tick did.
type TickResult struct {
	Status
	OrdersAssigned  int `json:"orders_assigned"`
	OrdersPickedUp  int `json:"orders_picked_up"`
	OrdersDelivered int `json:"orders_delivered"`
	BotsMoved       int `json:"bots_moved"`
}

// Tick advances the simulation one step: assign pending orders, plan
// routes, then move bots and fire arrivals. All effects commit in one
// transaction; the tick counter and throttle logs advance only on commit.
// A tick while the simulation is stopped is a no-op reporting zero counts.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return TickResult{Status: e.statusLocked(ctx)}, nil
	}

	next := e.tick + 1
	admitted := make(map[int64]int)
	var res TickResult
	// Plan and move mutate copies, swapped in only on commit so a failed
	// tick leaves the engine state matching the rolled-back store.
	routes := copyRoutes(e.routes)
	targets := copyTargets(e.targets)

	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		if err := e.assignPending(ctx, tx, next, admitted, &res); err != nil {
			return fmt.Errorf("assign: %w", err)
		}
		if err := e.planRoutes(ctx, tx, routes, targets); err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		if err := e.moveBots(ctx, tx, routes, targets, &res); err != nil {
			return fmt.Errorf("move: %w", err)
		}
		return nil
	})
	if err != nil {
		return TickResult{}, fmt.Errorf("tick %d: %w", next, err)
	}

	e.routes, e.targets = routes, targets
	for restaurant, n := range admitted {
		for i := 0; i < n; i++ {
			e.planThrottle.Record(restaurant, next)
		}
	}
	e.tick = next

	if e.publish != nil {
		if pos, err := e.positionsLocked(ctx); err == nil {
			e.publish(pos)
		}
	}
	res.Status = e.statusLocked(ctx)
	return res, nil
}

// assignable reports whether a bot may take on new orders.
func assignable(b model.Bot) bool {
	return b.Status == model.BotIdle || b.Status == model.BotMoving
}

// assignPending walks PENDING orders in creation order and assigns each to
// the nearest feasible bot: IDLE or MOVING, capacity left (counting
// assignments made earlier this tick), and a path to the pickup node. Ties
// go to the lowest bot id. Orders over their restaurant's tick window, or
// with no feasible bot, stay PENDING for a later tick.
func (e *Engine) assignPending(ctx context.Context, tx *store.Tx, now int64, admitted map[int64]int, res *TickResult) error {
	pending, err := tx.PendingOrders(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	bots, err := tx.ListBots(ctx)
	if err != nil {
		return err
	}
	counts := make(map[int64]int, len(bots))
	for _, b := range bots {
		if counts[b.ID], err = tx.CountActiveByBot(ctx, b.ID); err != nil {
			return err
		}
	}

	for _, o := range pending {
		if e.planThrottle.Count(o.RestaurantID, now)+admitted[o.RestaurantID] >= e.cfg.RestaurantMaxOrders {
			continue
		}

		var (
			best    *model.Bot
			bestLen int
		)
		for i := range bots {
			b := &bots[i]
			if !assignable(*b) || counts[b.ID] >= b.MaxCapacity {
				continue
			}
			n, ok := e.g.PathLength(b.CurrentNodeID, o.PickupNodeID)
			if !ok {
				continue
			}
			// Bots are ordered by id, so strict < keeps the lowest id
			// among equals.
			if best == nil || n < bestLen {
				best, bestLen = b, n
			}
		}
		if best == nil {
			continue
		}

		if err := o.Status.Transition(model.OrderAssigned); err != nil {
			return err
		}
		if err := tx.AssignOrder(ctx, o.ID, best.ID, e.now()); err != nil {
			return err
		}
		counts[best.ID]++
		admitted[o.RestaurantID]++
		res.OrdersAssigned++
		e.log.Debug().Int64("order", o.ID).Int64("bot", best.ID).
			Int("distance", bestLen).Msg("order assigned")
	}
	return nil
}

// planRoutes gives every IDLE or MOVING bot without an objective a new
// one: the nearest pickup among its ASSIGNED orders, else the nearest
// delivery among its PICKED_UP orders, else a drift back to the station.
// Bots with nothing to do and nowhere to go settle to IDLE.
func (e *Engine) planRoutes(ctx context.Context, tx *store.Tx, routes map[int64][]int64, targets map[int64]target) error {
	bots, err := tx.ListBots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		if !assignable(b) {
			continue
		}
		if _, busy := targets[b.ID]; busy {
			continue
		}
		active, err := tx.ActiveOrdersByBot(ctx, b.ID)
		if err != nil {
			return err
		}

		if len(active) > 0 {
			tgt, ok := e.nextObjective(b, active)
			if !ok {
				e.log.Warn().Int64("bot", b.ID).Err(ErrUnreachable).
					Msg("no reachable objective, retrying next tick")
				continue
			}
			path, ok := e.g.FindPath(b.CurrentNodeID, tgt.nodeID)
			if !ok {
				continue
			}
			targets[b.ID] = tgt
			routes[b.ID] = append([]int64(nil), path[1:]...)
			if err := e.setBotStatus(ctx, tx, b, model.BotMoving); err != nil {
				return err
			}
			continue
		}

		if e.hasStation && b.CurrentNodeID != e.stationNode {
			if path, ok := e.g.FindPath(b.CurrentNodeID, e.stationNode); ok {
				targets[b.ID] = target{nodeID: e.stationNode, action: actionStation}
				routes[b.ID] = append([]int64(nil), path[1:]...)
				if err := e.setBotStatus(ctx, tx, b, model.BotMoving); err != nil {
					return err
				}
				continue
			}
		}
		if err := e.setBotStatus(ctx, tx, b, model.BotIdle); err != nil {
			return err
		}
	}
	return nil
}

// nextObjective picks a bot's next target. Pickups come before
// deliveries; within each class the nearest node wins and active orders
// arrive ordered by id, so ties go to the lowest order id. Unreachable
// orders are skipped; if pickups exist but none is reachable, deliveries
// are still considered.
func (e *Engine) nextObjective(b model.Bot, active []model.Order) (target, bool) {
	nearest := func(orders []model.Order, act action, nodeOf func(model.Order) int64) (target, bool) {
		found := false
		var best target
		bestLen := 0
		for _, o := range orders {
			node := nodeOf(o)
			n, ok := e.g.PathLength(b.CurrentNodeID, node)
			if !ok {
				continue
			}
			if !found || n < bestLen {
				found = true
				best = target{nodeID: node, action: act, orderID: o.ID}
				bestLen = n
			}
		}
		return best, found
	}

	var assigned, picked []model.Order
	for _, o := range active {
		switch o.Status {
		case model.OrderAssigned:
			assigned = append(assigned, o)
		case model.OrderPickedUp:
			picked = append(picked, o)
		}
	}
	if tgt, ok := nearest(assigned, actionPickup, func(o model.Order) int64 { return o.PickupNodeID }); ok {
		return tgt, true
	}
	if tgt, ok := nearest(picked, actionDeliver, func(o model.Order) int64 { return o.DeliveryNodeID }); ok {
		return tgt, true
	}
	return target{}, false
}

// moveBots advances each bot with an objective one node along its route
// and fires the arrival when the route is exhausted at the target.
func (e *Engine) moveBots(ctx context.Context, tx *store.Tx, routes map[int64][]int64, targets map[int64]target, res *TickResult) error {
	bots, err := tx.ListBots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		tgt, ok := targets[b.ID]
		if !ok {
			continue
		}
		if r := routes[b.ID]; len(r) > 0 {
			b.CurrentNodeID = r[0]
			routes[b.ID] = r[1:]
			if err := tx.UpdateBotPosition(ctx, b.ID, b.CurrentNodeID); err != nil {
				return err
			}
			res.BotsMoved++
		}
		if len(routes[b.ID]) == 0 && b.CurrentNodeID == tgt.nodeID {
			if err := e.arrive(ctx, tx, b, tgt, res); err != nil {
				return err
			}
			delete(routes, b.ID)
			delete(targets, b.ID)
		}
	}
	return nil
}

// arrive resolves the orders matching the chosen action at the target
// node; orders of the other class at the same node wait for their own
// arrival. The transient PICKING_UP/DELIVERING status only lasts while
// the arrival is handled: before returning, the bot is recomputed to
// MOVING when active orders remain and IDLE otherwise, so ticks never end
// on a transient status.
func (e *Engine) arrive(ctx context.Context, tx *store.Tx, b model.Bot, tgt target, res *TickResult) error {
	now := e.now()
	switch tgt.action {
	case actionPickup:
		if err := e.setBotStatus(ctx, tx, b, model.BotPickingUp); err != nil {
			return err
		}
		b.Status = model.BotPickingUp
		active, err := tx.ActiveOrdersByBot(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, o := range active {
			if o.Status != model.OrderAssigned || o.PickupNodeID != tgt.nodeID {
				continue
			}
			if err := o.Status.Transition(model.OrderPickedUp); err != nil {
				return err
			}
			if err := tx.SetOrderStatus(ctx, o.ID, model.OrderPickedUp, now); err != nil {
				return err
			}
			res.OrdersPickedUp++
			e.log.Debug().Int64("order", o.ID).Int64("bot", b.ID).Msg("order picked up")
		}
	case actionDeliver:
		if err := e.setBotStatus(ctx, tx, b, model.BotDelivering); err != nil {
			return err
		}
		b.Status = model.BotDelivering
		active, err := tx.ActiveOrdersByBot(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, o := range active {
			if o.Status != model.OrderPickedUp || o.DeliveryNodeID != tgt.nodeID {
				continue
			}
			if err := o.Status.Transition(model.OrderDelivered); err != nil {
				return err
			}
			if err := tx.SetOrderStatus(ctx, o.ID, model.OrderDelivered, now); err != nil {
				return err
			}
			res.OrdersDelivered++
			e.log.Debug().Int64("order", o.ID).Int64("bot", b.ID).Msg("order delivered")
		}
	case actionStation:
		return e.setBotStatus(ctx, tx, b, model.BotIdle)
	}

	remaining, err := tx.CountActiveByBot(ctx, b.ID)
	if err != nil {
		return err
	}
	next := model.BotIdle
	if remaining > 0 {
		next = model.BotMoving
	}
	return e.setBotStatus(ctx, tx, b, next)
}

// setBotStatus validates and persists a bot status change; same-status is
// a no-op.
func (e *Engine) setBotStatus(ctx context.Context, tx *store.Tx, b model.Bot, to model.BotStatus) error {
	if b.Status == to {
		return nil
	}
	if err := b.Status.Transition(to); err != nil {
		return err
	}
	return tx.UpdateBotStatus(ctx, b.ID, to)
}

func copyRoutes(src map[int64][]int64) map[int64][]int64 {
	out := make(map[int64][]int64, len(src))
	for k, v := range src {
		out[k] = append([]int64(nil), v...)
	}
	return out
}

func copyTargets(src map[int64]target) map[int64]target {
	out := make(map[int64]target, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
