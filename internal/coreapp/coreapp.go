// Package coreapp wires Core's collaborators — the connection registry, the
// document store, the execution engine, and the auth surface — into the
// three WebSocket endpoints: /ws/periphery (Periphery link acceptor,
// Noise-authenticated), and the user-facing /ws/terminal and /ws/update
// (JWT or API-key authenticated).
package coreapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/dockfleet/conduit/internal/auth"
	"github.com/dockfleet/conduit/internal/config"
	"github.com/dockfleet/conduit/internal/mux"
	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/ops"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/store"
	"github.com/dockfleet/conduit/internal/terminal"
	"github.com/dockfleet/conduit/internal/transport"
	"github.com/dockfleet/conduit/internal/userws"
)

// UpdatePollInterval is how often /ws/update re-reads the persisted Update
// document while it is not yet complete.
const UpdatePollInterval = 500 * time.Millisecond

// App owns every Core-side resource the three WebSocket endpoints need.
// cmd/core builds one App, registers its routes, and runs the status
// poller and any configured dial-out loops alongside it.
type App struct {
	Registry *registry.Registry
	Store    store.Store
	Static   noise.StaticKey
	PinDir   string

	Tokens  *auth.TokenIssuer
	Keys    *auth.KeyStore
	Limiter *auth.RateLimiter

	EnableLegacyPasskey bool
	AcceptedPasskeys    [][]byte

	RequestTimeout time.Duration
	Logger         *slog.Logger

	dialing sync.Map // serverID -> struct{}, servers Core is currently dialing out to
}

// New builds an App. logger defaults to slog.Default() if nil.
func New(reg *registry.Registry, st store.Store, static noise.StaticKey, pinDir string, tokens *auth.TokenIssuer, keys *auth.KeyStore, limiter *auth.RateLimiter, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		Registry:       reg,
		Store:          st,
		Static:         static,
		PinDir:         pinDir,
		Tokens:         tokens,
		Keys:           keys,
		Limiter:        limiter,
		RequestTimeout: mux.DefaultTimeout,
		Logger:         logger,
	}
}

// RegisterRoutes attaches the three endpoints to mux.
func (a *App) RegisterRoutes(m *http.ServeMux) {
	m.HandleFunc("/ws/periphery", a.handlePeripheryWS)
	m.HandleFunc("/ws/terminal", a.handleTerminalWS)
	m.HandleFunc("/ws/update", a.handleUpdateWS)
}

// clientIP extracts the caller's address for rate-limiting, preferring
// X-Forwarded-For / X-Real-IP over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}

// pinPolicyForServer builds the PinPolicy a Periphery login must satisfy:
// an explicit pinned key if the Server record carries one, otherwise
// trust-on-first-use against a per-server pin file.
func (a *App) pinPolicyForServer(rec store.ServerRecord) (*noise.PinPolicy, error) {
	if rec.ExpectedPublicKey != "" {
		pub, err := noise.DecodePublicPEM([]byte(rec.ExpectedPublicKey))
		if err != nil {
			return nil, fmt.Errorf("coreapp: stored public key for %q is invalid: %w", rec.ID, err)
		}
		return &noise.PinPolicy{Expected: pub}, nil
	}
	pinFile := filepath.Join(a.PinDir, rec.ID+".pem")
	return noise.LoadPinPolicy(pinFile, nil, true)
}

// handlePeripheryWS accepts an inbound Periphery link (the agents-dial-Core
// direction for hosts behind NAT), runs the Noise login, and then serves the mux
// loop for the lifetime of the connection.
func (a *App) handlePeripheryWS(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server")
	if err := config.ValidateID(serverID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, found, err := store.FindServer(r.Context(), a.Store, serverID)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !found {
		// Unknown Server ids are accepted on first contact rather than
		// rejected: the declarative Server resource itself lives in the
		// out-of-scope document database, so this module has no
		// other opportunity to learn about a legitimately new host.
		rec = store.ServerRecord{ID: serverID, Name: serverID}
	}
	if rec.Disabled {
		http.Error(w, "server disabled", http.StatusForbidden)
		return
	}

	pin, err := a.pinPolicyForServer(rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cfg := transport.LoginConfig{
		Static:              a.Static,
		Pin:                 pin,
		EnableLegacyPasskey: a.EnableLegacyPasskey,
		AcceptedPasskeys:    a.AcceptedPasskeys,
	}

	conn, peerStatic, err := transport.Accept(w, r, cfg)
	if err != nil {
		if len(peerStatic) > 0 {
			rec.AttemptedPublicKey = string(noise.EncodePublicPEM(peerStatic))
			if serr := store.SaveServer(r.Context(), a.Store, rec); serr != nil {
				a.Logger.Warn("failed to record attempted public key", "server", serverID, "error", serr)
			}
		}
		a.Logger.Warn("periphery login failed", "server", serverID, "error", err)
		return
	}
	defer conn.Close()

	rec.AttemptedPublicKey = ""
	rec.State = "ok"
	rec.LastSeenAt = time.Now()
	if rec.ExpectedPublicKey == "" {
		rec.ExpectedPublicKey = string(noise.EncodePublicPEM(peerStatic))
	}
	if err := store.SaveServer(r.Context(), a.Store, rec); err != nil {
		a.Logger.Warn("failed to persist server record", "server", serverID, "error", err)
	}

	rc, _ := a.Registry.InsertOrReplace(r.Context(), serverID, registry.Args{Target: rec.Address}, conn)
	a.Logger.Info("periphery link established", "server", serverID)

	if err := mux.ServeConn(r.Context(), rc, mux.Handlers{}, a.Logger); err != nil {
		a.Logger.Info("periphery link closed", "server", serverID, "error", err)
	}
}

// ReconcileDialOuts scans the Server documents for any with an Address but
// no live connection and starts a dial-out loop for each one not already in
// flight, covering deployments where Core sits behind a reverse proxy and
// must dial the agents instead. Intended to run on a ticker alongside RegisterRoutes' accept
// path; the two directions share the same registry and pin logic.
func (a *App) ReconcileDialOuts(ctx context.Context) {
	recs, err := store.ListServers(ctx, a.Store)
	if err != nil {
		a.Logger.Warn("failed to list servers for dial-out reconciliation", "error", err)
		return
	}
	for _, rec := range recs {
		if rec.Disabled || rec.Address == "" {
			continue
		}
		if conn, ok := a.Registry.Get(rec.ID); ok && conn.Connected() {
			continue
		}
		if _, inFlight := a.dialing.LoadOrStore(rec.ID, struct{}{}); inFlight {
			continue
		}
		go a.dialOutToPeriphery(ctx, rec)
	}
}

func (a *App) dialOutToPeriphery(ctx context.Context, rec store.ServerRecord) {
	defer a.dialing.Delete(rec.ID)

	pin, err := a.pinPolicyForServer(rec)
	if err != nil {
		a.Logger.Warn("building pin policy for dial-out failed", "server", rec.ID, "error", err)
		return
	}
	cfg := transport.LoginConfig{Static: a.Static, Pin: pin}

	transport.DialLoop(ctx, rec.Address, cfg, func(conn *transport.Conn, peerStatic []byte) error {
		rec.AttemptedPublicKey = ""
		rec.State = "ok"
		rec.LastSeenAt = time.Now()
		if rec.ExpectedPublicKey == "" {
			rec.ExpectedPublicKey = string(noise.EncodePublicPEM(peerStatic))
		}
		if err := store.SaveServer(ctx, a.Store, rec); err != nil {
			a.Logger.Warn("failed to persist server record", "server", rec.ID, "error", err)
		}

		rc, _ := a.Registry.InsertOrReplace(ctx, rec.ID, registry.Args{Target: rec.Address}, conn)
		a.Logger.Info("periphery link established (dial-out)", "server", rec.ID)
		return mux.ServeConn(ctx, rc, mux.Handlers{}, a.Logger)
	}, a.Logger)
}

// authenticateWS reads and verifies the login pre-flight message, replying
// LOGGED_IN or an error string and reporting whether the caller may
// proceed.
func (a *App) authenticateWS(ctx context.Context, ws *websocket.Conn, ip string) (subject string, ok bool) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return "", false
	}
	var req userws.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		a.sendWSErrorText(ctx, ws, "malformed login message")
		return "", false
	}

	subject, verified := a.verifyLogin(req)
	if !verified {
		// Only failures consume rate-limit budget.
		if !a.Limiter.Allow(ip) {
			retry := a.Limiter.RetryAfter(ip)
			a.sendWSErrorText(ctx, ws, fmt.Sprintf("too many attempts, try again in %s", retry.Round(time.Second)))
		} else {
			a.sendWSErrorText(ctx, ws, "authentication failed")
		}
		return "", false
	}

	if err := ws.Write(ctx, websocket.MessageText, []byte(userws.LoggedInText)); err != nil {
		return "", false
	}
	return subject, true
}

func (a *App) verifyLogin(req userws.LoginRequest) (string, bool) {
	switch req.Type {
	case "jwt":
		if a.Tokens == nil {
			return "", false
		}
		subject, err := a.Tokens.Verify(req.Token)
		if err != nil {
			return "", false
		}
		return subject, true
	case "api-key":
		if a.Keys == nil {
			return "", false
		}
		if !a.Keys.Verify(req.Key, req.Secret) {
			return "", false
		}
		return req.Key, true
	default:
		return "", false
	}
}

func (a *App) sendWSErrorText(ctx context.Context, ws *websocket.Conn, msg string) {
	_ = ws.Write(ctx, websocket.MessageText, []byte(msg))
}

// handleTerminalWS is the user-facing terminal forwarding endpoint: after
// login, the caller names a
// Server and terminal to open; this end then bridges the user's WebSocket
// to the channel Periphery opens for it.
func (a *App) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	defer ws.Close(websocket.StatusNormalClosure, "")

	if _, ok := a.authenticateWS(ctx, ws, ip); !ok {
		return
	}

	_, data, err := ws.Read(ctx)
	if err != nil {
		return
	}
	var openReq userws.OpenTerminalRequest
	if err := json.Unmarshal(data, &openReq); err != nil {
		a.sendWSErrorText(ctx, ws, "malformed open request")
		return
	}

	conn, ok := a.Registry.Get(openReq.Server)
	if !ok || !conn.Connected() {
		a.sendWSErrorText(ctx, ws, fmt.Sprintf("server %q is not connected", openReq.Server))
		return
	}

	connectReq := ops.ConnectTerminalRequest{
		Name:          openReq.Name,
		Command:       openReq.Command,
		Dir:           openReq.Dir,
		Recreation:    openReq.Recreation,
		Container:     openReq.Container,
		ContainerMode: openReq.ContainerMode,
		Shell:         openReq.Shell,
	}
	resp, err := mux.SendRequest[ops.ConnectTerminalResponse](ctx, conn, ops.KindConnectTerminal, connectReq, a.RequestTimeout)
	if err != nil {
		a.sendWSErrorText(ctx, ws, err.Error())
		return
	}
	channelID := resp.ChannelID

	var writeMu sync.Mutex
	sink := &terminal.StreamSink{
		OnData: func(b []byte) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = ws.Write(ctx, websocket.MessageBinary, b)
		},
	}
	conn.RegisterTerminal(channelID, sink)

	remote := terminal.NewRemoteWriter(conn, channelID)
	if err := remote.SendStart(); err != nil {
		conn.RemoveTerminal(channelID)
		a.sendWSErrorText(ctx, ws, "failed to start terminal stream")
		return
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		switch typ {
		case websocket.MessageBinary:
			if err := remote.WriteRaw(data); err != nil {
				a.Logger.Warn("forwarding terminal input failed", "channel", channelID, "error", err)
			}
		case websocket.MessageText:
			var ctrl userws.ControlMessage
			if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.Resize != nil {
				_ = remote.Resize(ctrl.Resize.Rows, ctrl.Resize.Cols)
			}
		}
	}

	conn.RemoveTerminal(channelID)

	dctx, cancel := context.WithTimeout(context.Background(), a.RequestTimeout)
	defer cancel()
	_, _ = mux.SendRequest[struct{}](dctx, conn, ops.KindDisconnectTerminal, ops.DisconnectTerminalRequest{ChannelID: channelID}, a.RequestTimeout)
}

// handleUpdateWS streams a single Update document's persisted state to an
// authenticated caller until it reaches StatusComplete.
func (a *App) handleUpdateWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	defer ws.Close(websocket.StatusNormalClosure, "")

	if _, ok := a.authenticateWS(ctx, ws, ip); !ok {
		return
	}

	_, data, err := ws.Read(ctx)
	if err != nil {
		return
	}
	var sub userws.SubscribeUpdateRequest
	if err := json.Unmarshal(data, &sub); err != nil {
		a.sendWSErrorText(ctx, ws, "malformed subscribe request")
		return
	}

	ticker := time.NewTicker(UpdatePollInterval)
	defer ticker.Stop()

	for {
		rec, found, err := store.FindUpdate(ctx, a.Store, sub.UpdateID)
		if err != nil {
			a.sendWSErrorText(ctx, ws, "store error")
			return
		}
		if found {
			body, err := json.Marshal(rec)
			if err != nil {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, body); err != nil {
				return
			}
			if rec.Status == "complete" {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
