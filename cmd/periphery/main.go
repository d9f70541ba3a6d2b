// Command periphery runs a Fleet Conduit host agent: it dials Core's
// /ws/periphery endpoint (or, when configured with a listen address,
// accepts Core dialing in instead) and answers the Docker/compose/
// terminal requests Core sends over the resulting link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dockfleet/conduit/internal/config"
	"github.com/dockfleet/conduit/internal/mux"
	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/peripheryapp"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to periphery.toml (default: <data dir>/periphery.toml)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("periphery exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadPeripheryConfig(configPath)
	if err != nil {
		return fmt.Errorf("periphery: loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("periphery: creating data dir: %w", err)
	}

	keyPath := filepath.Join(cfg.DataDir, "periphery.key")
	static, err := noise.LoadOrGenerateKey(keyPath)
	if err != nil {
		return fmt.Errorf("periphery: loading static key: %w", err)
	}

	corePinFile := filepath.Join(cfg.DataDir, "core.pem")
	var acceptable [][]byte
	for _, f := range cfg.AcceptedCorePublicKeyFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("periphery: reading accepted core key %s: %w", f, err)
		}
		pub, err := noise.DecodePublicPEM(data)
		if err != nil {
			return fmt.Errorf("periphery: parsing accepted core key %s: %w", f, err)
		}
		acceptable = append(acceptable, pub)
	}
	pin, err := noise.LoadPinPolicy(corePinFile, acceptable, cfg.CoreURL != "")
	if err != nil {
		return fmt.Errorf("periphery: loading core pin policy: %w", err)
	}

	loginCfg := transport.LoginConfig{
		Static:              static,
		Pin:                 pin,
		EnableLegacyPasskey: cfg.EnableLegacyPasskey,
		Passkey:             []byte(cfg.Passkey),
	}

	var secretValues []string
	for _, v := range cfg.Secrets {
		secretValues = append(secretValues, v)
	}
	app := peripheryapp.New(keyPath, logger, secretValues...)
	app.SetCorePinFile(corePinFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CoreURL != "" {
		go dialCore(ctx, cfg, loginCfg, app, logger)
	}

	if cfg.ListenAddr != "" {
		return serveReverse(ctx, cfg, loginCfg, app, logger)
	}

	<-ctx.Done()
	return nil
}

// dialCore runs the outbound direction: this host behind NAT dialing out
// to Core.
func dialCore(ctx context.Context, cfg config.PeripheryConfig, loginCfg transport.LoginConfig, app *peripheryapp.App, logger *slog.Logger) {
	target := cfg.CoreURL
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("server", cfg.ServerID)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	reg := registry.New(logger)
	transport.DialLoop(ctx, target, loginCfg, func(conn *transport.Conn, peerStatic []byte) error {
		rc, _ := reg.InsertOrReplace(ctx, cfg.ServerID, registry.Args{Target: target}, conn)
		return mux.ServeConn(ctx, rc, app.Handlers(rc), logger)
	}, logger)
}

// serveReverse runs the inbound direction: Core sits behind a reverse
// proxy and dials this host instead.
func serveReverse(ctx context.Context, cfg config.PeripheryConfig, loginCfg transport.LoginConfig, app *peripheryapp.App, logger *slog.Logger) error {
	reg := registry.New(logger)

	m := http.NewServeMux()
	m.HandleFunc("/ws/periphery", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := transport.Accept(w, r, loginCfg)
		if err != nil {
			logger.Warn("core link rejected", "error", err)
			return
		}
		defer conn.Close()

		rc, _ := reg.InsertOrReplace(r.Context(), cfg.ServerID, registry.Args{}, conn)
		logger.Info("core link established", "server", cfg.ServerID)
		if err := mux.ServeConn(r.Context(), rc, app.Handlers(rc), logger); err != nil {
			logger.Info("core link closed", "error", err)
		}
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: m}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("periphery listening", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("periphery: serving: %w", err)
	}
	return nil
}
