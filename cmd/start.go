package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perishable-ledger/core/config"
	"perishable-ledger/core/loader"
	"perishable-ledger/core/logger"
	"perishable-ledger/core/middleware/auth"
	"perishable-ledger/core/middleware/rayid"

	"perishable-ledger/feature/audit"
	"perishable-ledger/feature/ledger"
	"perishable-ledger/feature/losslog"
	"perishable-ledger/feature/replication"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "perishable-ledger/docs/swagger"
)

// @title Perishable Ledger API
// @version 1.0
// @description Admin API for the perishable batch ledger.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

const shutdownTimeout = 30 * time.Second

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ledger server",
	Long: `Starts the admin HTTP API, the replication endpoint and the
time simulation scheduler, restoring persisted state first.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Configuration
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 3. Wire the ledger and restore state
		ctx := context.Background()
		rt, err := bootstrap(ctx, cfg, logg)
		if err != nil {
			logg.Fatal("Failed to initialize ledger", zap.Error(err))
		}

		// 4. Build the admin API
		app, err := newApp(rt)
		if err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		// 5. Start servers and scheduler
		repl := &http.Server{
			Addr:              ":" + cfg.Server.ReplicationPort,
			Handler:           rt.hub.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logg.Info("Starting replication endpoint", zap.String("port", cfg.Server.ReplicationPort))
			if err := repl.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Fatal("Replication endpoint failed", zap.Error(err))
			}
		}()
		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()
		rt.scheduler.Start()

		// 6. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.ShutdownWithContext(sctx)
		_ = repl.Shutdown(sctx)
		rt.shutdown(sctx)
	},
}

// newApp builds the fiber app with middleware and every feature mounted.
func newApp(rt *runtime) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true, // We will log our own startup message
	})

	mgr := loader.NewManager()
	mgr.Register(ledger.NewFeature(rt.engine, rt.snapshots, rt.logger))
	mgr.Register(audit.NewFeature(rt.engine, rt.db, rt.snapshots, rt.logger))
	mgr.Register(losslog.NewFeature(rt.engine.Registry(), rt.logger))
	mgr.Register(replication.NewFeature(rt.hub))

	// 1. RayID (Must be first to trace everything)
	app.Use(rayid.New())

	// 2. Request logging
	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(rt.logger, c)
		l.Info("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	// 3. Public endpoints
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/metrics", adaptor.HTTPHandler(rt.recorder.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "containers": rt.engine.Registry().Len()})
	})

	// 4. Auth marks authenticated requests privileged
	app.Use(auth.New(auth.Config{
		ApiKey: rt.cfg.Server.ApiKey,
		Public: []string{"/swagger", "/metrics", "/health"},
	}))

	if err := mgr.LoadAll(app); err != nil {
		return nil, err
	}
	return app, nil
}

func init() {
	RootCmd.AddCommand(startCmd)
}
