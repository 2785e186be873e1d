package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eagroute/go-eagroute/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the typed queries are
// available on the Store and inside transactions alike.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// --- nodes ---

// InsertNode inserts a grid node with an explicit id (ids come from the
// bootstrap CSV).
func (q queries) InsertNode(ctx context.Context, n model.Node) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO nodes (id, x, y, is_delivery_point) VALUES (?, ?, ?, ?)`,
		n.ID, n.X, n.Y, n.IsDeliveryPoint)
	return err
}

// ListNodes returns all grid nodes ordered by id.
func (q queries) ListNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, x, y, is_delivery_point FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y, &n.IsDeliveryPoint); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetNode returns one node or ErrNotFound.
func (q queries) GetNode(ctx context.Context, id int64) (model.Node, error) {
	var n model.Node
	err := q.db.QueryRowContext(ctx,
		`SELECT id, x, y, is_delivery_point FROM nodes WHERE id = ?`, id).
		Scan(&n.ID, &n.X, &n.Y, &n.IsDeliveryPoint)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, err
}

// ListDeliveryPoints returns the nodes flagged as legal delivery targets.
func (q queries) ListDeliveryPoints(ctx context.Context) ([]model.Node, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, x, y, is_delivery_point FROM nodes WHERE is_delivery_point = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y, &n.IsDeliveryPoint); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CountNodes returns the number of nodes.
func (q queries) CountNodes(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n)
	return n, err
}

// --- restaurants ---

// InsertRestaurant inserts a restaurant and returns its id.
func (q queries) InsertRestaurant(ctx context.Context, name string, nodeID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO restaurants (name, node_id) VALUES (?, ?)`, name, nodeID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRestaurants returns all restaurants ordered by id.
func (q queries) ListRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, node_id FROM restaurants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Restaurant
	for rows.Next() {
		var r model.Restaurant
		if err := rows.Scan(&r.ID, &r.Name, &r.NodeID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRestaurant returns one restaurant or ErrNotFound.
func (q queries) GetRestaurant(ctx context.Context, id int64) (model.Restaurant, error) {
	var r model.Restaurant
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, node_id FROM restaurants WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.NodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Restaurant{}, fmt.Errorf("restaurant %d: %w", id, ErrNotFound)
	}
	return r, err
}

// CountRestaurants returns the number of restaurants.
func (q queries) CountRestaurants(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM restaurants`).Scan(&n)
	return n, err
}

// --- blocked edges ---

// InsertBlockedEdge records an impassable segment (one orientation; the
// grid mirrors it).
func (q queries) InsertBlockedEdge(ctx context.Context, from, to int64) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO blocked_edges (from_node_id, to_node_id) VALUES (?, ?)`, from, to)
	return err
}

// ListBlockedEdges returns all blocked segments.
func (q queries) ListBlockedEdges(ctx context.Context) ([]model.BlockedEdge, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT from_node_id, to_node_id FROM blocked_edges ORDER BY from_node_id, to_node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlockedEdge
	for rows.Next() {
		var e model.BlockedEdge
		if err := rows.Scan(&e.FromNodeID, &e.ToNodeID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountBlockedEdges returns the number of blocked segments.
func (q queries) CountBlockedEdges(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_edges`).Scan(&n)
	return n, err
}

// --- bots ---

// InsertBot creates a bot and returns its id.
func (q queries) InsertBot(ctx context.Context, name string, nodeID int64, maxCapacity int) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO bots (name, status, current_node_id, max_capacity) VALUES (?, ?, ?, ?)`,
		name, model.BotIdle, nodeID, maxCapacity)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListBots returns the fleet ordered by id; the fixed order is what makes
// assignment tie-breaks deterministic.
func (q queries) ListBots(ctx context.Context) ([]model.Bot, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, status, current_node_id, max_capacity FROM bots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBots(rows)
}

// ListBotsByStatus returns bots whose status is one of the given set,
// ordered by id.
func (q queries) ListBotsByStatus(ctx context.Context, statuses ...model.BotStatus) ([]model.Bot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, status, current_node_id, max_capacity FROM bots WHERE status IN (?` +
		repeat(",?", len(statuses)-1) + `) ORDER BY id`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBots(rows)
}

// GetBot returns one bot or ErrNotFound.
func (q queries) GetBot(ctx context.Context, id int64) (model.Bot, error) {
	var b model.Bot
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, status, current_node_id, max_capacity FROM bots WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Status, &b.CurrentNodeID, &b.MaxCapacity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bot{}, fmt.Errorf("bot %d: %w", id, ErrNotFound)
	}
	return b, err
}

// UpdateBotStatus writes a bot's status.
func (q queries) UpdateBotStatus(ctx context.Context, id int64, status model.BotStatus) error {
	_, err := q.db.ExecContext(ctx, `UPDATE bots SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateBotPosition moves a bot to a node.
func (q queries) UpdateBotPosition(ctx context.Context, id, nodeID int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE bots SET current_node_id = ? WHERE id = ?`, nodeID, id)
	return err
}

// ResetBots returns the whole fleet to IDLE at the given node.
func (q queries) ResetBots(ctx context.Context, nodeID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE bots SET status = ?, current_node_id = ?`, model.BotIdle, nodeID)
	return err
}

// CountBots returns the fleet size.
func (q queries) CountBots(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bots`).Scan(&n)
	return n, err
}

// --- orders ---

const orderCols = `id, restaurant_id, pickup_node_id, delivery_node_id, bot_id,
	status, created_at, assigned_at, picked_up_at, delivered_at`

// CreateOrder persists a new PENDING order; the insert trigger writes the
// creation row of the audit trail.
func (q queries) CreateOrder(ctx context.Context, restaurantID, pickupNodeID, deliveryNodeID int64) (model.Order, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO orders (restaurant_id, pickup_node_id, delivery_node_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		restaurantID, pickupNodeID, deliveryNodeID, model.OrderPending, fmtTime(now))
	if err != nil {
		return model.Order{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Order{}, err
	}
	return q.GetOrder(ctx, id)
}

// GetOrder returns one order or ErrNotFound.
func (q queries) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns orders newest first, optionally filtered by status.
func (q queries) ListOrders(ctx context.Context, status *model.OrderStatus, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = q.db.QueryContext(ctx,
			`SELECT `+orderCols+` FROM orders WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			*status, limit)
	} else {
		rows, err = q.db.QueryContext(ctx,
			`SELECT `+orderCols+` FROM orders ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// PendingOrders returns PENDING orders in creation order, the enumeration
// order of the assignment planner.
func (q queries) PendingOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE status = ? ORDER BY id`, model.OrderPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ActiveOrdersByBot returns a bot's ASSIGNED and PICKED_UP orders ordered
// by id.
func (q queries) ActiveOrdersByBot(ctx context.Context, botID int64) ([]model.Order, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE bot_id = ? AND status IN (?, ?) ORDER BY id`,
		botID, model.OrderAssigned, model.OrderPickedUp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// CountActiveByBot counts a bot's orders that hold capacity.
func (q queries) CountActiveByBot(ctx context.Context, botID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE bot_id = ? AND status IN (?, ?)`,
		botID, model.OrderAssigned, model.OrderPickedUp).Scan(&n)
	return n, err
}

// CountActiveByBotExcluding counts a bot's active orders other than the
// given one; used on the cancel path to decide whether the bot goes IDLE.
func (q queries) CountActiveByBotExcluding(ctx context.Context, botID, orderID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE bot_id = ? AND id != ? AND status IN (?, ?)`,
		botID, orderID, model.OrderAssigned, model.OrderPickedUp).Scan(&n)
	return n, err
}

// CountOrdersByStatus counts orders with the given status.
func (q queries) CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE status = ?`, status).Scan(&n)
	return n, err
}

// CountOrders counts all orders.
func (q queries) CountOrders(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// AssignOrder binds an order to a bot and marks it ASSIGNED.
func (q queries) AssignOrder(ctx context.Context, orderID, botID int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE orders SET bot_id = ?, status = ?, assigned_at = ? WHERE id = ?`,
		botID, model.OrderAssigned, fmtTime(at), orderID)
	return err
}

// SetOrderStatus writes a status and stamps the matching timestamp column.
// Lifecycle legality is the caller's concern.
func (q queries) SetOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error {
	var column string
	switch status {
	case model.OrderAssigned:
		column = "assigned_at"
	case model.OrderPickedUp:
		column = "picked_up_at"
	case model.OrderDelivered:
		column = "delivered_at"
	}
	if column == "" {
		_, err := q.db.ExecContext(ctx,
			`UPDATE orders SET status = ? WHERE id = ?`, status, orderID)
		return err
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, `+column+` = ? WHERE id = ?`,
		status, fmtTime(at), orderID)
	return err
}

// UpdateDeliveryNode changes where the order goes; legal only while the
// order is PENDING, which the engine enforces.
func (q queries) UpdateDeliveryNode(ctx context.Context, orderID, nodeID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE orders SET delivery_node_id = ? WHERE id = ?`, nodeID, orderID)
	return err
}

// CancelActiveOrders bulk-cancels every non-terminal order; the update
// trigger audits each row. Returns the number cancelled.
func (q queries) CancelActiveOrders(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE status IN (?, ?, ?)`,
		model.OrderCancelled, model.OrderPending, model.OrderAssigned, model.OrderPickedUp)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OrderHistory returns the audit trail for an order, oldest first.
func (q queries) OrderHistory(ctx context.Context, orderID int64) ([]model.StatusChange, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, order_id, old_status, new_status, changed_at
		 FROM order_status_history WHERE order_id = ? ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusChange
	for rows.Next() {
		var (
			c   model.StatusChange
			old sql.NullString
			at  string
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &old, &c.NewStatus, &at); err != nil {
			return nil, err
		}
		if old.Valid {
			c.OldStatus = model.OrderStatus(old.String)
		}
		if c.ChangedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- scanning helpers ---

func scanBots(rows *sql.Rows) ([]model.Bot, error) {
	var out []model.Bot
	for rows.Next() {
		var b model.Bot
		if err := rows.Scan(&b.ID, &b.Name, &b.Status, &b.CurrentNodeID, &b.MaxCapacity); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o                                 model.Order
		botID                             sql.NullInt64
		createdAt                         string
		assignedAt, pickedUpAt, deliveredAt sql.NullString
	)
	err := row.Scan(&o.ID, &o.RestaurantID, &o.PickupNodeID, &o.DeliveryNodeID,
		&botID, &o.Status, &createdAt, &assignedAt, &pickedUpAt, &deliveredAt)
	if err != nil {
		return model.Order{}, err
	}
	if botID.Valid {
		o.BotID = &botID.Int64
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Order{}, err
	}
	if o.AssignedAt, err = parseNullTime(assignedAt); err != nil {
		return model.Order{}, err
	}
	if o.PickedUpAt, err = parseNullTime(pickedUpAt); err != nil {
		return model.Order{}, err
	}
	if o.DeliveredAt, err = parseNullTime(deliveredAt); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
