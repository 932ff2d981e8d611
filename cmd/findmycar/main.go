package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/SpasticCat/findmycar/internal/alarm"
	"github.com/SpasticCat/findmycar/internal/history"
	"github.com/SpasticCat/findmycar/internal/keyvalue"
	"github.com/SpasticCat/findmycar/internal/location"
	"github.com/SpasticCat/findmycar/internal/notify"
	"github.com/SpasticCat/findmycar/internal/premium"
	"github.com/SpasticCat/findmycar/internal/server"
	"github.com/SpasticCat/findmycar/internal/spot"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Path to config file")
	demoMode := flag.Bool("demo", false, "Run with simulated location, in-memory storage and premium granted")
	listenAddr := flag.String("listen", "", "Override listen address")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Printf("[main] findmycar starting")

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if *demoMode {
		cfg.Location.Type = "demo"
		cfg.Storage.Type = "memory"
		cfg.Premium.Type = "demo"
		cfg.Premium.Grant = []string{cfg.Premium.Entitlement}
		log.Printf("[main] demo mode enabled")
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("[main] storage: %v", err)
	}
	defer kv.Close()

	svc := buildPremiumService(cfg)
	gate := premium.NewGate(svc, kv, cfg.Premium.Entitlement)
	gate.Init(ctx)
	gate.Refresh(ctx)

	spots := spot.NewStore(kv, gate)
	if err := spots.Load(ctx); err != nil {
		log.Printf("[main] spot restore failed, starting empty: %v", err)
	}

	hub := notify.NewHub()
	engine := alarm.NewEngine(kv, gate, hub)
	if err := engine.Resume(ctx); err != nil {
		log.Printf("[main] countdown resume failed: %v", err)
	}
	defer engine.Stop()

	journal := history.New(cfg.History)
	defer journal.Close()

	prov, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf("[main] location: %v", err)
	}
	defer prov.Close()

	tracker := location.NewTracker(prov, location.WatchConfig{MinMoveMeters: cfg.Location.MinMoveM})
	if err := tracker.Start(ctx); err != nil {
		// Spot, timer and premium features still work without a fix.
		if errors.Is(err, location.ErrPermissionDenied) {
			log.Printf("[main] location permission denied, guidance disabled")
		} else {
			log.Printf("[main] location unavailable, guidance disabled: %v", err)
		}
	}
	defer tracker.Stop()

	srv := server.New(cfg, tracker, spots, engine, gate, journal, hub)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[main] server: %v", err)
	}
	log.Printf("[main] shutdown complete")
}

func buildStore(cfg *server.Config) (keyvalue.Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		return keyvalue.NewRedisStore(cfg.Storage.Redis)
	case "memory":
		return keyvalue.NewMemoryStore(), nil
	default:
		return keyvalue.NewFileStore(cfg.Storage.Path)
	}
}

func buildProvider(cfg *server.Config) (location.Provider, error) {
	switch cfg.Location.Type {
	case "nmea":
		return location.NewNMEA(cfg.Location.NMEA), nil
	case "mqtt":
		return location.NewMQTT(cfg.Location.MQTT), nil
	case "demo":
		return location.NewDemoProvider(), nil
	default:
		return nil, fmt.Errorf("unknown location type %q", cfg.Location.Type)
	}
}

func buildPremiumService(cfg *server.Config) premium.Service {
	if cfg.Premium.Type == "http" && cfg.Premium.Endpoint != "" {
		return premium.NewHTTPService(cfg.Premium.Endpoint)
	}
	return premium.NewStaticService(cfg.Premium.Grant...)
}
