// Package engine runs the delivery simulation: tick-driven assignment,
// route planning, and movement over the grid, with all state changes
// persisted through the store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eagroute/go-eagroute/config"
	"github.com/eagroute/go-eagroute/grid"
	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

// action is what a bot does when it reaches its target node.
type action string

const (
	actionPickup  action = "PICKUP"
	actionDeliver action = "DELIVER"
	actionStation action = "STATION"
)

// target is a bot's current objective. orderID is zero for station drift.
type target struct {
	nodeID  int64
	action  action
	orderID int64
}

// Engine drives the simulation. One mutex serializes ticks and every
// mutating call, so the store only ever sees one writer.
type Engine struct {
	cfg config.Config
	st  *store.Store
	g   *grid.Grid
	log zerolog.Logger

	mu      sync.Mutex
	running bool
	tick    int64

	// Per-bot route tails and objectives. Routes exclude the bot's
	// current node; both are engine-local and rebuilt by the planner
	// from persistent state, so a restart just replans.
	routes  map[int64][]int64
	targets map[int64]target

	// planThrottle admits planner assignments on tick instants;
	// createThrottle admits order creation on unix seconds.
	planThrottle   *windowLog
	createThrottle *windowLog

	stationNode int64
	hasStation  bool

	now     func() time.Time
	publish func([]BotPosition)
}

// New builds an engine over an already-bootstrapped store and grid.
func New(cfg config.Config, st *store.Store, g *grid.Grid, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:            cfg,
		st:             st,
		g:              g,
		log:            log.With().Str("component", "engine").Logger(),
		routes:         make(map[int64][]int64),
		targets:        make(map[int64]target),
		planThrottle:   newWindowLog(cfg.RestaurantMaxOrders, int64(cfg.WindowTicks)),
		createThrottle: newWindowLog(cfg.RestaurantMaxOrders, int64(cfg.WindowSeconds)),
		now:            time.Now,
	}
	if id, ok := g.NodeAt(cfg.StationX, cfg.StationY); ok {
		e.stationNode = id
		e.hasStation = true
	} else {
		// Without a station node, idle bots stay where they are.
		e.log.Warn().Int("x", cfg.StationX).Int("y", cfg.StationY).
			Msg("station coordinates not on grid")
	}
	return e
}

// SetPublisher installs a callback invoked with fresh bot positions after
// every committed tick. The callback runs under the engine lock and must
// not call back into the engine.
func (e *Engine) SetPublisher(fn func([]BotPosition)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish = fn
}

// Start begins advancing the simulation on ticks.
func (e *Engine) Start(ctx context.Context) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.running = true
		e.log.Info().Int64("tick", e.tick).Msg("simulation started")
	}
	return e.statusLocked(ctx)
}

// Stop pauses the simulation; state is kept.
func (e *Engine) Stop(ctx context.Context) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.running = false
		e.log.Info().Int64("tick", e.tick).Msg("simulation stopped")
	}
	return e.statusLocked(ctx)
}

// Running reports whether ticks advance the simulation.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Reset stops the simulation, cancels every non-terminal order, returns
// the fleet to the station, and zeroes the tick counter and throttles.
func (e *Engine) Reset(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		cancelled, err := tx.CancelActiveOrders(ctx)
		if err != nil {
			return err
		}
		home := e.stationNode
		if !e.hasStation {
			nodes, err := tx.ListNodes(ctx)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return nil
			}
			home = nodes[0].ID
		}
		if err := tx.ResetBots(ctx, home); err != nil {
			return err
		}
		e.log.Info().Int64("cancelled", cancelled).Msg("simulation reset")
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("reset: %w", err)
	}

	e.running = false
	e.tick = 0
	e.routes = make(map[int64][]int64)
	e.targets = make(map[int64]target)
	e.planThrottle.Reset()
	e.createThrottle.Reset()
	return e.statusLocked(ctx), nil
}

// Loop drives ticks from a timer until ctx is cancelled. Ticks while the
// simulation is stopped are skipped.
func (e *Engine) Loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.Running() {
				continue
			}
			if _, err := e.Tick(ctx); err != nil {
				e.log.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// Status is a snapshot of the simulation.
type Status struct {
	Running    bool           `json:"is_running"`
	Tick       int64          `json:"tick_count"`
	ActiveBots int            `json:"active_bots"`
	Orders     map[string]int `json:"orders"`
	Bots       map[string]int `json:"bots"`
}

// Status returns the current snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(ctx)
}

func (e *Engine) statusLocked(ctx context.Context) Status {
	s := Status{
		Running: e.running,
		Tick:    e.tick,
		Orders:  make(map[string]int),
		Bots:    make(map[string]int),
	}
	for _, st := range []model.OrderStatus{
		model.OrderPending, model.OrderAssigned, model.OrderPickedUp,
		model.OrderDelivered, model.OrderCancelled,
	} {
		n, err := e.st.CountOrdersByStatus(ctx, st)
		if err != nil {
			e.log.Error().Err(err).Msg("status counts")
			continue
		}
		s.Orders[string(st)] = n
	}
	bots, err := e.st.ListBots(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("status bots")
		return s
	}
	for _, b := range bots {
		s.Bots[string(b.Status)]++
		if b.Status != model.BotIdle {
			s.ActiveBots++
		}
	}
	return s
}

// Target is a bot's current objective on the wire. OrderID is unset for
// station drift.
type Target struct {
	NodeID  int64  `json:"node"`
	Action  string `json:"action"`
	OrderID *int64 `json:"order_id,omitempty"`
}

// BotPosition is one bot's live position, remaining route, and objective,
// as sent to the visualization frontend.
type BotPosition struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Status       model.BotStatus `json:"status"`
	NodeID       int64           `json:"node_id"`
	X            int             `json:"x"`
	Y            int             `json:"y"`
	Address      string          `json:"address"`
	ActiveOrders []int64         `json:"active_orders"`
	Route        []int64         `json:"route"`
	Target       *Target         `json:"target,omitempty"`
}

// Positions returns live positions for the whole fleet.
func (e *Engine) Positions(ctx context.Context) ([]BotPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionsLocked(ctx)
}

func (e *Engine) positionsLocked(ctx context.Context) ([]BotPosition, error) {
	bots, err := e.st.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BotPosition, 0, len(bots))
	for _, b := range bots {
		p := BotPosition{
			ID:           b.ID,
			Name:         b.Name,
			Status:       b.Status,
			NodeID:       b.CurrentNodeID,
			ActiveOrders: []int64{},
			Route:        append([]int64{}, e.routes[b.ID]...),
		}
		if x, y, ok := e.g.Coords(b.CurrentNodeID); ok {
			p.X, p.Y = x, y
			p.Address = grid.Address(x, y)
		}
		active, err := e.st.ActiveOrdersByBot(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range active {
			p.ActiveOrders = append(p.ActiveOrders, o.ID)
		}
		if t, ok := e.targets[b.ID]; ok {
			tv := &Target{NodeID: t.nodeID, Action: string(t.action)}
			if t.orderID != 0 {
				id := t.orderID
				tv.OrderID = &id
			}
			p.Target = tv
		}
		out = append(out, p)
	}
	return out, nil
}
