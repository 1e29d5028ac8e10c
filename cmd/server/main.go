package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/api"
	"github.com/aidenletourneau/scrapyard_server/internal/auth"
	"github.com/aidenletourneau/scrapyard_server/internal/config"
	"github.com/aidenletourneau/scrapyard_server/internal/logging"
	"github.com/aidenletourneau/scrapyard_server/internal/queue"
	"github.com/aidenletourneau/scrapyard_server/internal/registry"
	"github.com/aidenletourneau/scrapyard_server/internal/router"
	"github.com/aidenletourneau/scrapyard_server/internal/simulation"
	"github.com/aidenletourneau/scrapyard_server/internal/store"
	"github.com/aidenletourneau/scrapyard_server/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags
	configFile := flag.String("config", os.Getenv("SCRAPYARD_CONFIG"), "Path to YAML config file")
	port := flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logStore := logging.NewLogStore(cfg.LogBuffer, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.LogLevel),
	}))
	logger := slog.New(logStore)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.StatementCacheSize, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// one pipe per direction between the connection side and the simulation
	toSim := queue.NewPipe("to-simulation", cfg.QueueSize, logger)
	toClient := queue.NewPipe("to-client", cfg.QueueSize, logger)

	reg := registry.NewRegistry(logger)
	sim := simulation.New(simulation.Config{
		Period:        cfg.TickPeriod,
		AutosaveTicks: cfg.AutosaveTicks,
	}, toSim.Frames(), toClient, logger)

	resolver := auth.NewHeaderResolver()
	wsServer := websocket.NewServer(reg, db, toSim, resolver, websocket.Options{
		SendBuffer:  cfg.SendBuffer,
		ClientRate:  rate.Limit(cfg.ClientRate),
		ClientBurst: cfg.ClientBurst,
		SaveWait:    cfg.SaveWait,
	}, logger)
	rt := router.New(reg, db, router.Hooks{
		Shutdown:    cancel,
		PlayerSaved: wsServer.PlayerSaved,
	}, logger)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Scrapyard Server"))
	})

	// WebSocket endpoint
	r.Get("/ws", wsServer.HandleWebSocket())

	// API endpoints
	r.Route("/api", func(r chi.Router) {
		r.Get("/logs", api.HandleGetLogs(logStore))
		r.Get("/online", api.HandleGetOnline(reg, logger))
		r.Get("/channels/{id}/members", api.HandleGetChannelMembers(reg))
		r.Post("/logout", api.HandleLogout(reg, resolver, logger))
		r.Post("/shutdown", api.HandleShutdown(wsServer, resolver, cfg.AdminIDs, logger))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sim.Run(gctx)
		if errors.Is(err, simulation.ErrStopped) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return rt.Run(gctx, toClient)
	})
	g.Go(func() error {
		logger.Info("server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
