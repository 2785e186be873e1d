// Package config holds runtime configuration, populated from EAGROUTE_*
// environment variables with sensible defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config configures the server, store, and simulation engine.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DatabasePath is the sqlite database file, ":memory:" for ephemeral.
	DatabasePath string
	// DataDir holds the CSV bootstrap files.
	DataDir string

	// TotalBots is the fleet size created on first bootstrap.
	TotalBots int
	// BotMaxCapacity caps concurrently held active orders per bot.
	BotMaxCapacity int

	// RestaurantMaxOrders and the two window sizes configure the
	// per-restaurant admission throttle: at most RestaurantMaxOrders
	// admissions within WindowSeconds (creation path) or WindowTicks
	// (planner path).
	RestaurantMaxOrders int
	WindowSeconds       int
	WindowTicks         int

	// StationX, StationY locate the node idle bots drift toward and the
	// reset position for the fleet.
	StationX int
	StationY int

	// TickInterval drives the timer tick loop while the simulation runs.
	TickInterval time.Duration

	// AllowedOrigins restricts CORS to the visualization frontend.
	AllowedOrigins []string
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Addr:                ":8000",
		DatabasePath:        "eagroute.db",
		DataDir:             "data",
		TotalBots:           5,
		BotMaxCapacity:      3,
		RestaurantMaxOrders: 3,
		WindowSeconds:       30,
		WindowTicks:         30,
		StationX:            4,
		StationY:            3,
		TickInterval:        time.Second,
		AllowedOrigins:      []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// FromEnv overlays Default with any EAGROUTE_* environment variables set.
func FromEnv() Config {
	cfg := Default()

	envStr(&cfg.Addr, "EAGROUTE_ADDR")
	envStr(&cfg.DatabasePath, "EAGROUTE_DB")
	envStr(&cfg.DataDir, "EAGROUTE_DATA_DIR")

	envInt(&cfg.TotalBots, "EAGROUTE_TOTAL_BOTS")
	envInt(&cfg.BotMaxCapacity, "EAGROUTE_BOT_CAPACITY")
	envInt(&cfg.RestaurantMaxOrders, "EAGROUTE_RESTAURANT_LIMIT")
	envInt(&cfg.WindowSeconds, "EAGROUTE_WINDOW_SECONDS")
	envInt(&cfg.WindowTicks, "EAGROUTE_WINDOW_TICKS")
	envInt(&cfg.StationX, "EAGROUTE_STATION_X")
	envInt(&cfg.StationY, "EAGROUTE_STATION_Y")

	if v := os.Getenv("EAGROUTE_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("EAGROUTE_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	return cfg
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
