// Command core runs Fleet Conduit's central coordinator: it accepts
// Periphery links on /ws/periphery, serves user terminal/update sessions
// on /ws/terminal and /ws/update, and periodically polls every connected
// Periphery's container status.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dockfleet/conduit/internal/auth"
	"github.com/dockfleet/conduit/internal/config"
	"github.com/dockfleet/conduit/internal/coreapp"
	"github.com/dockfleet/conduit/internal/coreops"
	"github.com/dockfleet/conduit/internal/execengine"
	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/statuspoll"
	"github.com/dockfleet/conduit/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to core.toml (default: <data dir>/core.toml)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("core exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadCoreConfig(configPath)
	if err != nil {
		return fmt.Errorf("core: loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("core: creating data dir: %w", err)
	}

	static, err := noise.LoadOrGenerateKey(filepath.Join(cfg.DataDir, "core.key"))
	if err != nil {
		return fmt.Errorf("core: loading static key: %w", err)
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("core: generating JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
		logger.Warn("no jwt_secret configured, generated an ephemeral one for this run")
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("core: building token issuer: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("core: opening store: %w", err)
	}
	defer st.Close()

	reg := registry.New(logger)
	updateStore := store.NewUpdateStore(st)
	engine := execengine.NewEngine(updateStore, logger)
	guards := execengine.NewActionGuards()
	global := execengine.NewSingleFlight()
	statusCache := statuspoll.NewCache()
	keys := auth.NewKeyStore()
	limiter := auth.NewRateLimiter(cfg.RateLimitMaxAttempts, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	// The declarative CRUD layer that would invoke most of these methods
	// is an external collaborator; what Core itself schedules is the
	// periodic store backup below.
	operations := coreops.New(engine, guards, global, reg, st, statusCache)

	app := coreapp.New(reg, st, static, filepath.Join(cfg.DataDir, "pins"), tokens, keys, limiter, logger)
	app.EnableLegacyPasskey = cfg.EnableLegacyPasskey

	mux := http.NewServeMux()
	app.RegisterRoutes(mux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := statuspoll.New(reg, st, statusCache, time.Duration(cfg.StatusPollIntervalSeconds)*time.Second, logger)
	go poller.Run(ctx)

	go runDialOutReconciler(ctx, app)

	if cfg.BackupIntervalHours > 0 {
		go runBackupLoop(ctx, operations, st, filepath.Join(cfg.DataDir, "backups"), time.Duration(cfg.BackupIntervalHours)*time.Hour, logger)
	}

	idleStop := make(chan struct{})
	go limiter.Run(idleStop)
	defer close(idleStop)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("core listening", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("core: serving: %w", err)
	}
	return nil
}

func runDialOutReconciler(ctx context.Context, app *coreapp.App) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	app.ReconcileDialOuts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.ReconcileDialOuts(ctx)
		}
	}
}

func runBackupLoop(ctx context.Context, operations *coreops.Operations, st *store.SQLiteStore, destDir string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update, err := operations.BackupDatabase(ctx, "core", func(ctx context.Context) (string, error) {
				return st.Backup(ctx, destDir)
			})
			if err != nil {
				logger.Warn("store backup skipped", "error", err)
				continue
			}
			if !update.Success {
				logger.Warn("store backup failed", "update", update.ID)
			}
		}
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
