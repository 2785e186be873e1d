package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagroute/go-eagroute/config"
	"github.com/eagroute/go-eagroute/engine"
	"github.com/eagroute/go-eagroute/grid"
	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

// newTestServer stands up the full stack on a 5×1 street: restaurant at
// node 1, two bots, station at node 5.
func newTestServer(t *testing.T) (*httptest.Server, int64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var nodes []model.Node
	for i := 0; i < 5; i++ {
		n := model.Node{ID: int64(i + 1), X: i, Y: 0, IsDeliveryPoint: true}
		require.NoError(t, st.InsertNode(ctx, n))
		nodes = append(nodes, n)
	}
	restID, err := st.InsertRestaurant(ctx, "RAMEN", 1)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := st.InsertBot(ctx, fmt.Sprintf("Bot-%d", i+1), 1, 3)
		require.NoError(t, err)
	}

	cfg := config.Default()
	cfg.StationX, cfg.StationY = 4, 0

	g := grid.New(nodes, nil)
	eng := engine.New(cfg, st, g, zerolog.Nop())
	srv := New(cfg, st, eng, g, zerolog.Nop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, restID
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func createOrder(t *testing.T, ts *httptest.Server, restID, node int64) model.Order {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/api/orders",
		map[string]int64{"restaurant_id": restID, "delivery_node_id": node})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o model.Order
	require.NoError(t, json.Unmarshal(body, &o))
	return o
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Empty(t, resp.Header.Get("Server"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCreateOrder(t *testing.T) {
	ts, restID := newTestServer(t)

	o := createOrder(t, ts, restID, 5)
	assert.Equal(t, model.OrderAssigned, o.Status, "eagerly assigned")
	assert.Equal(t, int64(1), o.PickupNodeID)
	assert.Equal(t, int64(5), o.DeliveryNodeID)
}

func TestCreateOrderValidation(t *testing.T) {
	ts, restID := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/orders",
		map[string]int64{"restaurant_id": 999, "delivery_node_id": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/orders",
		map[string]int64{"restaurant_id": restID, "delivery_node_id": 999})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed body.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/orders", strings.NewReader("{"))
	require.NoError(t, err)
	resp2, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestCreateOrderThrottled(t *testing.T) {
	ts, restID := newTestServer(t)

	for i := 0; i < 3; i++ {
		createOrder(t, ts, restID, 5)
	}
	resp, body := doJSON(t, ts, http.MethodPost, "/api/orders",
		map[string]int64{"restaurant_id": restID, "delivery_node_id": 5})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, string(body))
}

func TestOversizedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	huge := strings.NewReader(`{"restaurant_id": 1, "pad": "` + strings.Repeat("x", 1<<20) + `"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/orders", huge)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestGetOrderAndHistory(t *testing.T) {
	ts, restID := newTestServer(t)
	o := createOrder(t, ts, restID, 5)

	resp, body := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, o.ID, got.ID)

	resp, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/orders/%d/history", o.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []model.StatusChange
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist, 2, "creation and assignment")
	assert.Equal(t, model.OrderPending, hist[0].NewStatus)
	assert.Equal(t, model.OrderAssigned, hist[1].NewStatus)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/orders/999/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	ts, restID := newTestServer(t)
	createOrder(t, ts, restID, 5)
	createOrder(t, ts, restID, 3)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []model.Order
	require.NoError(t, json.Unmarshal(body, &orders))
	assert.Len(t, orders, 2)

	resp, body = doJSON(t, ts, http.MethodGet, "/api/orders?status=PENDING", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &orders))
	assert.Empty(t, orders)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/orders?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	ts, restID := newTestServer(t)
	o := createOrder(t, ts, restID, 5)

	resp, body := doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.OrderCancelled, got.Status)

	// Terminal: a second cancel conflicts.
	resp, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelPickedUpConflicts(t *testing.T) {
	ts, restID := newTestServer(t)
	o := createOrder(t, ts, restID, 5)

	doJSON(t, ts, http.MethodPost, "/api/simulation/start", nil)
	doJSON(t, ts, http.MethodPost, "/api/simulation/tick", nil) // picked up at the restaurant

	resp, _ := doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTickNoOpWhenStopped(t *testing.T) {
	ts, restID := newTestServer(t)
	o := createOrder(t, ts, restID, 5)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/simulation/tick", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st engine.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, int64(0), st.Tick)
	assert.False(t, st.Running)

	_, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	var got model.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.OrderAssigned, got.Status, "nothing moved")
}

// The tick response carries the snapshot keys plus per-tick counts.
func TestTickResponseShape(t *testing.T) {
	ts, restID := newTestServer(t)
	createOrder(t, ts, restID, 5)

	doJSON(t, ts, http.MethodPost, "/api/simulation/start", nil)
	resp, body := doJSON(t, ts, http.MethodPost, "/api/simulation/tick", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	for _, key := range []string{
		"is_running", "tick_count", "active_bots", "orders", "bots",
		"orders_assigned", "orders_picked_up", "orders_delivered", "bots_moved",
	} {
		assert.Contains(t, got, key)
	}
	assert.Equal(t, true, got["is_running"])
	assert.EqualValues(t, 1, got["tick_count"])
	assert.EqualValues(t, 1, got["orders_picked_up"])

	// The bare snapshot uses the same keys.
	resp, body = doJSON(t, ts, http.MethodGet, "/api/simulation/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Contains(t, got, "is_running")
	assert.Contains(t, got, "tick_count")
	assert.Contains(t, got, "active_bots")
}

func TestSimulationLifecycle(t *testing.T) {
	ts, restID := newTestServer(t)
	o := createOrder(t, ts, restID, 5)

	_, body := doJSON(t, ts, http.MethodPost, "/api/simulation/start", nil)
	var st engine.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Running)

	for i := 0; i < 6; i++ {
		doJSON(t, ts, http.MethodPost, "/api/simulation/tick", nil)
	}
	_, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	var got model.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.OrderDelivered, got.Status)

	_, body = doJSON(t, ts, http.MethodPost, "/api/simulation/reset", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Running)
	assert.Equal(t, int64(0), st.Tick)
}

func TestPositionsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/simulation/bots/positions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pos []engine.BotPosition
	require.NoError(t, json.Unmarshal(body, &pos))
	require.Len(t, pos, 2)
	assert.Equal(t, "LR00", pos[0].Address)
}

func TestGridEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/grid", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var g struct {
		Nodes          []nodeView         `json:"nodes"`
		Restaurants    []model.Restaurant `json:"restaurants"`
		DeliveryPoints []nodeView         `json:"delivery_points"`
	}
	require.NoError(t, json.Unmarshal(body, &g))
	assert.Len(t, g.Nodes, 5)
	assert.Len(t, g.Restaurants, 1)
	assert.Equal(t, "LR00", g.Nodes[0].Address)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/grid/nodes/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBotEndpoints(t *testing.T) {
	ts, restID := newTestServer(t)
	createOrder(t, ts, restID, 5)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/bots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bots []botView
	require.NoError(t, json.Unmarshal(body, &bots))
	require.Len(t, bots, 2)
	assert.Equal(t, 1, bots[0].ActiveOrders)
	assert.Equal(t, 2, bots[0].AvailableCapacity)

	resp, body = doJSON(t, ts, http.MethodGet, "/api/bots/1/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []model.Order
	require.NoError(t, json.Unmarshal(body, &orders))
	assert.Len(t, orders, 1)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/bots/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketStream(t *testing.T) {
	ts, restID := newTestServer(t)
	createOrder(t, ts, restID, 5)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/simulation/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	doJSON(t, ts, http.MethodPost, "/api/simulation/start", nil)
	doJSON(t, ts, http.MethodPost, "/api/simulation/tick", nil)

	var msg positionsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "positions", msg.Type)
	assert.Len(t, msg.Bots, 2)
}
