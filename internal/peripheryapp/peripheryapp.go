// Package peripheryapp wires a Periphery host's real collaborators — the
// Docker/Compose driver and the terminal manager — into the mux dispatch
// table a Core connection serves requests through: the Periphery side of
// every Core-initiated operation.
package peripheryapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/compose"
	"github.com/dockfleet/conduit/internal/mux"
	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/ops"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/secrets"
	"github.com/dockfleet/conduit/internal/stackfiles"
	"github.com/dockfleet/conduit/internal/terminal"
)

// App owns every resource one Periphery host needs to answer Core's
// requests and to drive its own dial-out connection.
type App struct {
	KeyPath   string
	Compose   *compose.Driver
	Files     *stackfiles.Materializer
	Terminals *terminal.Manager
	Logger    *slog.Logger

	corePinFile string
}

// New builds an App around a fresh terminal manager, an ExecRunner-backed
// compose driver, and a git-backed materializer, the production wiring for
// a real host. secretValues seeds the replacer that scrubs materialization
// logs.
func New(keyPath string, logger *slog.Logger, secretValues ...string) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		KeyPath:   keyPath,
		Compose:   compose.NewDriver(nil),
		Files:     stackfiles.NewMaterializer(nil, secrets.NewReplacer(secretValues...)),
		Terminals: terminal.NewManager(logger),
		Logger:    logger,
	}
}

// SetCorePinFile records where this host's pinned Core public key lives, so
// a RotateCorePublicKey request can re-pin it.
func (a *App) SetCorePinFile(path string) {
	a.corePinFile = path
}

func writePinFile(path string, pub []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("peripheryapp: creating pin dir: %w", err)
	}
	if err := os.WriteFile(path, noise.EncodePublicPEM(pub), 0o600); err != nil {
		return fmt.Errorf("peripheryapp: writing pin file: %w", err)
	}
	return nil
}

// Handlers returns the full mux dispatch table this Periphery answers.
func (a *App) Handlers(conn *registry.Conn) mux.Handlers {
	return mux.Handlers{
		ops.KindComposePull:        a.handleComposePull,
		ops.KindComposeUp:          a.handleComposeUp,
		ops.KindComposeDown:        a.handleComposeDown,
		ops.KindComposeRun:         a.handleComposeRun,
		ops.KindStackDeploy:        a.handleStackDeploy,
		ops.KindStackRemove:        a.handleStackRemove,
		ops.KindStackConfig:        a.handleStackConfig,
		ops.KindFetchLogs:          a.handleFetchLogs,
		ops.KindConnectTerminal:    a.handleConnectTerminal(conn),
		ops.KindDisconnectTerminal: a.handleDisconnectTerminal(conn),
		ops.KindExecInTerminal:     a.handleExecInTerminal,
		ops.KindRotatePeripheryKey: a.handleRotatePeripheryKey,
		ops.KindRotateCorePubKey:   a.handleRotateCorePubKey,
		ops.KindPeripheryStatus:    a.handlePeripheryStatus,
	}
}

func decode[T any](body json.RawMessage) (T, error) {
	var out T
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("peripheryapp: decoding request body: %w", err)
		}
	}
	return out, nil
}

// prepare materializes the run directory and logs in to any configured
// registries, the stages shared by pull and up. ok is false as soon as one
// stage fails.
func (a *App) prepare(ctx context.Context, dir string, source *stackfiles.Source, registries []compose.RegistryCredential) (logs []ops.LogEntry, ok bool) {
	if source != nil {
		logs = a.Files.Materialize(ctx, dir, *source)
		for _, l := range logs {
			if !l.Success {
				return logs, false
			}
		}
	}
	for _, cred := range registries {
		l := a.Compose.RegistryLogin(ctx, cred)
		logs = append(logs, l)
		if !l.Success {
			return logs, false
		}
	}
	return logs, true
}

func (a *App) handleComposePull(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.ComposePullRequest](body)
	if err != nil {
		return nil, err
	}
	logs, ok := a.prepare(ctx, req.Dir, req.Source, req.Registries)
	if !ok {
		return ops.ComposePullResponse{Logs: logs}, nil
	}
	logs = append(logs, a.Compose.Pull(ctx, req.Dir, req.Target, req.Services))
	return ops.ComposePullResponse{Logs: logs}, nil
}

func (a *App) handleComposeUp(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.ComposeUpRequest](body)
	if err != nil {
		return nil, err
	}
	logs, ok := a.prepare(ctx, req.Dir, req.Source, req.Registries)
	if !ok {
		return ops.ComposeUpResponse{Logs: logs}, nil
	}
	result := a.Compose.Up(ctx, req.Dir, req.Target, req.Plan)
	return ops.ComposeUpResponse{Logs: append(logs, result.Logs...), Config: result.Config, Deployed: result.Deployed}, nil
}

func (a *App) handleComposeDown(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.ComposeDownRequest](body)
	if err != nil {
		return nil, err
	}
	log := a.Compose.Down(ctx, req.Dir, req.Target, req.Services)
	return ops.ComposeDownResponse{Log: log}, nil
}

func (a *App) handleComposeRun(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.ComposeRunRequest](body)
	if err != nil {
		return nil, err
	}
	log := a.Compose.Run(ctx, req.Dir, req.Target, req.Options, req.Service, req.Argv)
	return ops.ComposeRunResponse{Log: log}, nil
}

func (a *App) handleStackDeploy(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.StackDeployRequest](body)
	if err != nil {
		return nil, err
	}
	log := a.Compose.StackDeploy(ctx, req.Dir, req.Target, req.StackName)
	return ops.StackDeployResponse{Log: log}, nil
}

func (a *App) handleStackRemove(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.StackRemoveRequest](body)
	if err != nil {
		return nil, err
	}
	log := a.Compose.StackRemove(ctx, req.Dir, req.StackName)
	return ops.StackRemoveResponse{Log: log}, nil
}

func (a *App) handleStackConfig(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.StackConfigRequest](body)
	if err != nil {
		return nil, err
	}
	cfg, log := a.Compose.StackConfig(ctx, req.Dir, req.Target)
	return ops.StackConfigResponse{Config: cfg, Log: log}, nil
}

func (a *App) handleFetchLogs(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.FetchLogsRequest](body)
	if err != nil {
		return nil, err
	}
	lines, log := a.Compose.FetchLogs(ctx, req.Container, req.Query)
	return ops.FetchLogsResponse{Lines: lines, Log: log}, nil
}

// handleConnectTerminal gets-or-creates the requested terminal and attaches
// a PeripherySink forwarding its output back over conn under a fresh
// channel id.
func (a *App) handleConnectTerminal(conn *registry.Conn) mux.Handler {
	return func(ctx context.Context, body json.RawMessage) (any, error) {
		req, err := decode[ops.ConnectTerminalRequest](body)
		if err != nil {
			return nil, err
		}

		var term *terminal.Terminal
		if req.Container != "" {
			term, err = terminal.SpawnContainerTerminal(ctx, a.Terminals, terminal.ContainerMode(req.ContainerMode), req.Container, req.Shell, terminal.RecreationPolicy(req.Recreation), a.Logger)
		} else {
			term, err = a.Terminals.GetOrCreate(ctx, req.Name, req.Command, req.Dir, terminal.RecreationPolicy(req.Recreation))
		}
		if err != nil {
			return nil, fmt.Errorf("peripheryapp: connecting terminal: %w", err)
		}

		channelID := uuid.New()
		terminal.AttachPeriphery(conn, channelID, term, a.Logger)
		return ops.ConnectTerminalResponse{ChannelID: channelID}, nil
	}
}

// handleDisconnectTerminal unregisters a forwarded channel; the underlying
// Terminal itself keeps running so a later ConnectTerminal of the same name
// can reattach to it; the recreation policy governs teardown, not
// disconnect.
func (a *App) handleDisconnectTerminal(conn *registry.Conn) mux.Handler {
	return func(ctx context.Context, body json.RawMessage) (any, error) {
		req, err := decode[ops.DisconnectTerminalRequest](body)
		if err != nil {
			return nil, err
		}
		conn.RemoveTerminal(req.ChannelID)
		return struct{}{}, nil
	}
}

func (a *App) handleExecInTerminal(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.ExecInTerminalRequest](body)
	if err != nil {
		return nil, err
	}
	term, ok := a.Terminals.Get(req.Name)
	if !ok {
		return nil, fmt.Errorf("peripheryapp: no such terminal %q", req.Name)
	}
	result, err := terminal.RunExec(ctx, term, req.Command)
	if err != nil {
		return nil, err
	}
	return ops.ExecInTerminalResponse{Output: result.Output, ExitCode: result.ExitCode}, nil
}

func (a *App) handleRotatePeripheryKey(ctx context.Context, body json.RawMessage) (any, error) {
	key, err := noise.RotateKey(a.KeyPath)
	if err != nil {
		return nil, err
	}
	return ops.RotatePeripheryKeyResponse{PublicKeyPEM: noise.EncodePublicPEM(key.Public)}, nil
}

// handleRotateCorePubKey re-pins Core's static public key, pushed by
// RotateCoreKeys, into this host's own pin file.
func (a *App) handleRotateCorePubKey(ctx context.Context, body json.RawMessage) (any, error) {
	req, err := decode[ops.RotateCorePubKeyRequest](body)
	if err != nil {
		return nil, err
	}
	if a.corePinFile == "" {
		return nil, fmt.Errorf("peripheryapp: no core pin file configured")
	}
	pub, err := noise.DecodePublicPEM(req.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("peripheryapp: invalid core public key: %w", err)
	}
	if err := writePinFile(a.corePinFile, pub); err != nil {
		return nil, err
	}
	return ops.RotateCorePubKeyResponse{}, nil
}

func (a *App) handlePeripheryStatus(ctx context.Context, body json.RawMessage) (any, error) {
	out, log := a.Compose.Ps(ctx)
	if !log.Success {
		return nil, fmt.Errorf("peripheryapp: docker ps failed: %s", log.Stderr)
	}
	containers := parseDockerPsJSONLines(out)
	return ops.PeripheryStatusResponse{Containers: containers}, nil
}

func parseDockerPsJSONLines(out string) []ops.ContainerSummary {
	var result []ops.ContainerSummary
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var row struct {
			ID     string `json:"ID"`
			Names  string `json:"Names"`
			Image  string `json:"Image"`
			State  string `json:"State"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		result = append(result, ops.ContainerSummary{ID: row.ID, Name: row.Names, Image: row.Image, State: row.State})
	}
	return result
}
