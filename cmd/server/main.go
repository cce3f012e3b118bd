package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/auth"
	"github.com/shipyard/shipyard-server-go/internal/config"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/powers"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/shipyard/shipyard-server-go/internal/game/turn"
	"github.com/shipyard/shipyard-server-go/internal/repository"
	"github.com/shipyard/shipyard-server-go/internal/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

// completedRetention is how long finished games stay in the snapshot table.
const completedRetention = 7 * 24 * time.Hour

// snapshotStore is what the server needs from either repository.
type snapshotStore interface {
	game.Store
	ListActive(ctx context.Context) ([]string, error)
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting shipyard server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize snapshot storage
	var store snapshotStore
	if cfg.Database.Enabled {
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)

		pg := repository.NewPostgresSnapshotRepository(db, logger)
		go pruneCompleted(ctx, pg, logger)
		store = pg
	} else {
		logger.Warn("database disabled; snapshots are kept in memory")
		store = repository.NewMemorySnapshotRepository()
	}

	// Load unit catalog
	var cat *catalog.StaticCatalog
	if cfg.Game.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Game.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		logger.Fatal("failed to load unit catalog", zap.String("path", cfg.Game.CatalogPath), zap.Error(err))
	}
	logger.Info("unit catalog loaded",
		zap.Int("definitions", len(cat.Definitions())),
		zap.Strings("factions", cat.Factions()),
	)

	seed := cfg.Game.DiceSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	engine, err := game.NewEngine(game.EngineConfig{
		Catalog:     cat,
		Logger:      logger,
		Dice:        turn.NewRandomDice(seed),
		Strategies:  powers.DefaultStrategies(),
		Store:       store,
		Credentials: auth.NewBcryptCredentials(cfg.Auth.BcryptCost),
		Defaults: state.Settings{
			StartingHealth: cfg.Game.StartingHealth,
			MaxHealth:      cfg.Game.MaxHealth,
			StartingLines:  cfg.Game.StartingLines,
			MaxUnits:       cfg.Game.MaxUnits,
		},
		ReplayDir: cfg.Game.ReplayDir,
	})
	if err != nil {
		logger.Fatal("failed to create game engine", zap.Error(err))
	}
	restoreActiveGames(ctx, engine, store, logger)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
			server.PlayerAuthInterceptor(engine, server.PlayerMethods()...),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)
	server.RegisterTurnServiceServer(grpcServer, server.NewTurnServer(engine, version, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start WebSocket server
	hub := server.NewHub(engine, cfg.Server.WebSocket, logger)
	hub.Attach(engine.Events())
	go hub.Run(ctx)

	httpServer := server.NewHTTPServer(cfg.Server.WebSocket,
		server.NewRouter(cfg.Server.WebSocket, hub, engine, logger))
	go func() {
		logger.Info("starting WebSocket server", zap.String("address", cfg.Server.WebSocket.Address))
		if wsErr := httpServer.ListenAndServe(); wsErr != nil && !errors.Is(wsErr, http.ErrServerClosed) {
			logger.Error("WebSocket server error", zap.Error(wsErr))
		}
	}()

	logger.Info("shipyard server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("shipyard server stopped")
}

// restoreActiveGames loads every unfinished game so pushes and replays resume
// without waiting for the first request.
func restoreActiveGames(ctx context.Context, engine *game.Engine, store snapshotStore, logger *zap.Logger) {
	ids, err := store.ListActive(ctx)
	if err != nil {
		logger.Error("failed to list active games", zap.Error(err))
		return
	}
	restored := 0
	for _, id := range ids {
		if _, err := engine.Snapshot(ctx, id); err != nil {
			logger.Error("failed to restore game", zap.String("game_id", id), zap.Error(err))
			continue
		}
		restored++
	}
	logger.Info("active games restored", zap.Int("count", restored))
}

func pruneCompleted(ctx context.Context, repo *repository.PostgresSnapshotRepository, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteCompletedBefore(ctx, time.Now().Add(-completedRetention))
			if err != nil {
				logger.Warn("failed to prune completed games", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("pruned completed games", zap.Int64("count", n))
			}
		}
	}
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
