package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	"snake-server/rules"
)

func main() {
	cfg, err := LoadConfig(".env", os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.logSummary()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("sentry init: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}
	defer sentry.Recover()

	if cfg.MapsDir != "" {
		names, err := rules.LoadMapDir(cfg.MapsDir)
		if err != nil {
			log.Fatalf("maps: %v", err)
		}
		log.Printf("Loaded maps %v", names)
	}
	if _, ok := rules.LookupMap(cfg.Map); !ok {
		log.Fatalf("default map %q not found (have %v)", cfg.Map, rules.MapNames())
	}

	if cfg.StatsviewAddr != "" {
		// set configurations before calling statsview.New()
		viewer.SetConfiguration(viewer.WithAddr(cfg.StatsviewAddr))
		mgr := statsview.New()
		go mgr.Start()
		log.Printf("Runtime stats on http://%s/debug/statsview", cfg.StatsviewAddr)
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	analytics := NewAnalytics(db)

	hub := NewHub(cfg, db, analytics)
	go hub.Run()

	mux := SetupRoutes(hub, cfg.ClientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		log.Printf("Serving client files from %s", cfg.ClientDir)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.lobbies.CloseAll()
	analytics.Stop()
	if err := db.Close(); err != nil {
		log.Printf("db close: %v", err)
	}
}
