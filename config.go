package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"snake-server/rules"
)

// Config holds the process settings. Values come from defaults, then an
// optional .env file and the environment, then command-line flags.
type Config struct {
	Addr          string
	DBPath        string
	ClientDir     string
	MapsDir       string
	Map           string
	UpdateRate    int // ms, 0 keeps the world default
	SentryDSN     string
	StatsviewAddr string
	Debug         bool
}

// NewConfig returns the built-in defaults.
func NewConfig() Config {
	return Config{
		Addr:       ":8080",
		DBPath:     "snake.db",
		ClientDir:  "../client",
		Map:        "plain",
		UpdateRate: rules.DefaultUpdateRate,
	}
}

// LoadConfig reads envFile (missing is fine), the environment and args.
func LoadConfig(envFile string, args []string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := NewConfig()
	if err := cfg.fromEnv(); err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("snake-server", flag.ContinueOnError)
	fset.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fset.StringVar(&cfg.ClientDir, "client", cfg.ClientDir, "Path to client directory")
	fset.StringVar(&cfg.MapsDir, "maps", cfg.MapsDir, "Directory with extra *.json maps")
	fset.StringVar(&cfg.Map, "map", cfg.Map, "Default map for new lobbies")
	fset.IntVar(&cfg.UpdateRate, "rate", cfg.UpdateRate, "Minimum ms between ticks")
	fset.StringVar(&cfg.SentryDSN, "sentry", cfg.SentryDSN, "Sentry DSN (empty disables reporting)")
	fset.StringVar(&cfg.StatsviewAddr, "statsview", cfg.StatsviewAddr, "Runtime dashboard address (empty disables it)")
	fset.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Log tick timing")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.UpdateRate < 0 {
		return Config{}, fmt.Errorf("config: negative update rate %d", cfg.UpdateRate)
	}
	return cfg, nil
}

func (c *Config) fromEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("SNAKE_ADDR", &c.Addr)
	str("SNAKE_DB", &c.DBPath)
	str("SNAKE_CLIENT_DIR", &c.ClientDir)
	str("SNAKE_MAPS_DIR", &c.MapsDir)
	str("SNAKE_MAP", &c.Map)
	str("SENTRY_DSN", &c.SentryDSN)
	str("STATSVIEW_ADDR", &c.StatsviewAddr)

	if v, ok := os.LookupEnv("SNAKE_UPDATE_RATE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SNAKE_UPDATE_RATE: %w", err)
		}
		c.UpdateRate = n
	}
	if v, ok := os.LookupEnv("SNAKE_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SNAKE_DEBUG: %w", err)
		}
		c.Debug = b
	}
	return nil
}

func (c Config) logSummary() {
	log.Printf("config: addr=%s db=%s client=%s map=%s rate=%dms", c.Addr, c.DBPath, c.ClientDir, c.Map, c.UpdateRate)
	if c.MapsDir != "" {
		log.Printf("config: extra maps from %s", c.MapsDir)
	}
}
