// Package loader bootstraps the store from the map data CSVs: grid nodes
// and restaurants from sample_data.csv, impassable streets from
// BlockedPaths.csv, and the initial bot fleet. Loading is idempotent;
// tables that already hold rows are left alone.
package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eagroute/go-eagroute/config"
	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

const (
	nodesFile   = "sample_data.csv"
	blockedFile = "BlockedPaths.csv"
)

// Load populates empty tables from cfg.DataDir.
func Load(ctx context.Context, st *store.Store, cfg config.Config, log zerolog.Logger) error {
	log = log.With().Str("component", "loader").Logger()

	n, err := st.CountNodes(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := loadNodes(ctx, st, filepath.Join(cfg.DataDir, nodesFile), log); err != nil {
			return fmt.Errorf("load nodes: %w", err)
		}
	} else {
		log.Debug().Int("nodes", n).Msg("nodes already loaded")
	}

	n, err = st.CountBlockedEdges(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := loadBlockedEdges(ctx, st, filepath.Join(cfg.DataDir, blockedFile), log); err != nil {
			return fmt.Errorf("load blocked edges: %w", err)
		}
	}

	n, err = st.CountBots(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := loadBots(ctx, st, cfg, log); err != nil {
			return fmt.Errorf("load bots: %w", err)
		}
	}
	return nil
}

// loadNodes reads the map CSV. The first four columns are
// id,x,y,delivery_point; every further column names a restaurant, with
// TRUE marking its node.
func loadNodes(ctx context.Context, st *store.Store, path string, log zerolog.Logger) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return fmt.Errorf("%s: no data rows", path)
	}
	header := rows[0]
	if len(header) < 4 {
		return fmt.Errorf("%s: expected at least 4 columns, got %d", path, len(header))
	}

	restaurants := 0
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return fmt.Errorf("%s: row has %d fields, header has %d", path, len(row), len(header))
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: bad node id %q", path, row[0])
		}
		x, err := strconv.Atoi(row[1])
		if err != nil {
			return fmt.Errorf("%s: bad x %q", path, row[1])
		}
		y, err := strconv.Atoi(row[2])
		if err != nil {
			return fmt.Errorf("%s: bad y %q", path, row[2])
		}
		node := model.Node{ID: id, X: x, Y: y, IsDeliveryPoint: parseBool(row[3])}
		if err := st.InsertNode(ctx, node); err != nil {
			return err
		}
		for col := 4; col < len(row); col++ {
			if !parseBool(row[col]) {
				continue
			}
			if _, err := st.InsertRestaurant(ctx, header[col], id); err != nil {
				return err
			}
			restaurants++
		}
	}
	log.Info().Int("nodes", len(rows)-1).Int("restaurants", restaurants).
		Msg("map loaded")
	return nil
}

func loadBlockedEdges(ctx context.Context, st *store.Store, path string, log zerolog.Logger) error {
	rows, err := readCSV(path)
	if err != nil {
		// Blocked paths are optional map data.
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("no blocked paths file")
			return nil
		}
		return err
	}
	if len(rows) < 2 {
		return nil
	}
	count := 0
	for _, row := range rows[1:] {
		if len(row) < 2 {
			return fmt.Errorf("%s: expected from_id,to_id", path)
		}
		from, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: bad from_id %q", path, row[0])
		}
		to, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: bad to_id %q", path, row[1])
		}
		if err := st.InsertBlockedEdge(ctx, from, to); err != nil {
			return err
		}
		count++
	}
	log.Info().Int("blocked_edges", count).Msg("blocked paths loaded")
	return nil
}

// loadBots creates the fleet at the station node, or the lowest node id
// when the station coordinates are not on the map.
func loadBots(ctx context.Context, st *store.Store, cfg config.Config, log zerolog.Logger) error {
	nodes, err := st.ListNodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes loaded, cannot place bots")
	}
	home := nodes[0].ID
	for _, n := range nodes {
		if n.X == cfg.StationX && n.Y == cfg.StationY {
			home = n.ID
			break
		}
	}
	for i := 1; i <= cfg.TotalBots; i++ {
		name := fmt.Sprintf("Bot-%d", i)
		if _, err := st.InsertBot(ctx, name, home, cfg.BotMaxCapacity); err != nil {
			return err
		}
	}
	log.Info().Int("bots", cfg.TotalBots).Int64("station", home).Msg("fleet created")
	return nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func parseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
