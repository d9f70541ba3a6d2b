// Package coreops orchestrates Core-side actions: acquiring the right
// resource or global guard, running the work under the execution engine's
// Update lifecycle, and round-tripping the request to the target
// Periphery over the mux.
package coreops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dockfleet/conduit/internal/execengine"
	"github.com/dockfleet/conduit/internal/mux"
	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/ops"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/stackfiles"
	"github.com/dockfleet/conduit/internal/statuspoll"
	"github.com/dockfleet/conduit/internal/store"
)

// Action-state flags held per Server.
const (
	flagComposeUp   = "starting_containers"
	flagComposePull = "pulling"
	flagComposeDown = "stopping_containers"
	flagComposeRun  = "running_command"
	flagStack       = "deploying"
)

// Global single-flight lock names.
const (
	lockGlobalAutoUpdate    = "global_auto_update"
	lockRotateAllServerKeys = "rotate_all_server_keys"
	lockRotateCoreKeys      = "rotate_core_keys"
	lockClearRepoCache      = "clear_repo_cache"
	lockBackupDatabase      = "backup_database"
)

// Operations wires the execution engine, guards, connection registry, and
// document store together into the concrete Core-initiated operations.
type Operations struct {
	Engine   *execengine.Engine
	Guards   *execengine.ActionGuards
	Global   *execengine.SingleFlight
	Registry *registry.Registry
	Store    store.Store
	Status   *statuspoll.Cache
	Timeout  time.Duration
}

// New builds an Operations with the default per-request mux timeout.
func New(engine *execengine.Engine, guards *execengine.ActionGuards, global *execengine.SingleFlight, reg *registry.Registry, st store.Store, status *statuspoll.Cache) *Operations {
	return &Operations{
		Engine:   engine,
		Guards:   guards,
		Global:   global,
		Registry: reg,
		Store:    st,
		Status:   status,
		Timeout:  mux.DefaultTimeout,
	}
}

func (o *Operations) conn(serverID string) (*registry.Conn, error) {
	conn, ok := o.Registry.Get(serverID)
	if !ok {
		return nil, fmt.Errorf("coreops: server %q is not registered", serverID)
	}
	if !conn.Connected() {
		return nil, fmt.Errorf("coreops: server %q is not connected", serverID)
	}
	return conn, nil
}

func appendOpsLog(update *execengine.Update, l ops.LogEntry) {
	_ = update.AppendLog(execengine.LogEntry{
		Stage:     l.Stage,
		Stdout:    l.Stdout,
		Stderr:    l.Stderr,
		Success:   l.Success,
		StartedAt: l.StartedAt,
		EndedAt:   l.EndedAt,
	})
}

// ComposePull runs the Pull stage on serverID.
func (o *Operations) ComposePull(ctx context.Context, initiator, serverID string, req ops.ComposePullRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagComposePull)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindComposePull, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.ComposePullResponse](ctx, conn, ops.KindComposePull, req, o.Timeout)
		if err != nil {
			return err
		}
		for _, l := range resp.Logs {
			appendOpsLog(update, l)
			if !l.Success {
				return fmt.Errorf("coreops: pull failed on %s at stage %q", serverID, l.Stage)
			}
		}
		return nil
	})
}

// ComposeUp runs the full compose Up flow on serverID.
func (o *Operations) ComposeUp(ctx context.Context, initiator, serverID string, req ops.ComposeUpRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagComposeUp)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindComposeUp, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.ComposeUpResponse](ctx, conn, ops.KindComposeUp, req, o.Timeout)
		if err != nil {
			return err
		}
		for _, l := range resp.Logs {
			appendOpsLog(update, l)
		}
		if !resp.Deployed {
			return fmt.Errorf("coreops: compose up did not deploy on %s", serverID)
		}
		return nil
	})
}

// ComposeDown runs the Down stage on serverID.
func (o *Operations) ComposeDown(ctx context.Context, initiator, serverID string, req ops.ComposeDownRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagComposeDown)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindComposeDown, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.ComposeDownResponse](ctx, conn, ops.KindComposeDown, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		if !resp.Log.Success {
			return fmt.Errorf("coreops: down failed on %s", serverID)
		}
		return nil
	})
}

// ComposeRun runs "docker compose run" on serverID.
func (o *Operations) ComposeRun(ctx context.Context, initiator, serverID string, req ops.ComposeRunRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagComposeRun)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindComposeRun, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.ComposeRunResponse](ctx, conn, ops.KindComposeRun, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		if !resp.Log.Success {
			return fmt.Errorf("coreops: run failed on %s", serverID)
		}
		return nil
	})
}

// StackDeploy runs "docker stack deploy" on serverID.
func (o *Operations) StackDeploy(ctx context.Context, initiator, serverID string, req ops.StackDeployRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagStack)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindStackDeploy, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.StackDeployResponse](ctx, conn, ops.KindStackDeploy, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		if !resp.Log.Success {
			return fmt.Errorf("coreops: stack deploy failed on %s", serverID)
		}
		return nil
	})
}

// StackRemove runs "docker stack rm" on serverID.
func (o *Operations) StackRemove(ctx context.Context, initiator, serverID string, req ops.StackRemoveRequest) (*execengine.Update, error) {
	release, err := o.Guards.Acquire(serverID, flagStack)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindStackRemove, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.StackRemoveResponse](ctx, conn, ops.KindStackRemove, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		if !resp.Log.Success {
			return fmt.Errorf("coreops: stack remove failed on %s", serverID)
		}
		return nil
	})
}

// StackConfig runs "docker stack config" on serverID and does not itself
// need a guard: it is read-only introspection, not a mutating action-state
// class.
func (o *Operations) StackConfig(ctx context.Context, initiator, serverID string, req ops.StackConfigRequest) (*execengine.Update, error) {
	conn, err := o.conn(serverID)
	if err != nil {
		return nil, err
	}

	return o.Engine.Execute(ctx, ops.KindStackConfig, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.StackConfigResponse](ctx, conn, ops.KindStackConfig, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		if !resp.Log.Success {
			return fmt.Errorf("coreops: stack config failed on %s", serverID)
		}
		return nil
	})
}

// FetchLogs runs the tail/grep log fetch on serverID.
func (o *Operations) FetchLogs(ctx context.Context, initiator, serverID string, req ops.FetchLogsRequest) (*execengine.Update, []string, error) {
	conn, err := o.conn(serverID)
	if err != nil {
		return nil, nil, err
	}

	var lines []string
	update, _ := o.Engine.Execute(ctx, ops.KindFetchLogs, initiator, serverID, func(ctx context.Context, update *execengine.Update) error {
		resp, err := mux.SendRequest[ops.FetchLogsResponse](ctx, conn, ops.KindFetchLogs, req, o.Timeout)
		if err != nil {
			return err
		}
		appendOpsLog(update, resp.Log)
		lines = resp.Lines
		if !resp.Log.Success {
			return fmt.Errorf("coreops: log fetch failed on %s", serverID)
		}
		return nil
	})
	return update, lines, nil
}

// AutoUpdateTarget names one container this module can decide to pull an
// update for: the Server that hosts it, and the request to issue if the
// status cache shows it currently running. Stack/Deployment documents are
// owned by the declarative CRUD layer, so the caller supplies the target
// set rather than this package deriving it from a persisted resource
// collection.
type AutoUpdateTarget struct {
	ServerID      string
	ContainerName string
	Request       ops.ComposePullRequest
}

// GlobalAutoUpdate pulls every target whose Server is Ok and whose named
// container the status cache currently reports running, recording every
// successful pull as one "Auto Pull" log line on a single Update.
func (o *Operations) GlobalAutoUpdate(ctx context.Context, initiator string, targets []AutoUpdateTarget) (*execengine.Update, error) {
	release, err := o.Global.TryAcquire(lockGlobalAutoUpdate)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.Engine.Execute(ctx, "global.auto_update", initiator, "", func(ctx context.Context, update *execengine.Update) error {
		start := time.Now()
		var pulled []string
		for _, target := range targets {
			rec, ok, err := store.FindServer(ctx, o.Store, target.ServerID)
			if err != nil || !ok || rec.Disabled || rec.State != "ok" {
				continue
			}
			if !o.Status.ContainerRunning(target.ServerID, target.ContainerName) {
				continue
			}
			conn, err := o.conn(target.ServerID)
			if err != nil {
				continue
			}
			resp, err := mux.SendRequest[ops.ComposePullResponse](ctx, conn, ops.KindComposePull, target.Request, o.Timeout)
			if err != nil || !pullSucceeded(resp.Logs) {
				continue
			}
			pulled = append(pulled, fmt.Sprintf("%s/%s", target.ServerID, target.ContainerName))
		}
		return update.AppendLog(execengine.LogEntry{
			Stage:     "Auto Pull",
			Stdout:    strings.Join(pulled, ", "),
			Success:   true,
			StartedAt: start,
			EndedAt:   time.Now(),
		})
	})
}

// RotateAllServerKeys asks every enabled, Ok Server's Periphery to rotate
// its own static private key, persisting the newly pinned public key on
// each Server record in turn.
func (o *Operations) RotateAllServerKeys(ctx context.Context, initiator string) (*execengine.Update, error) {
	release, err := o.Global.TryAcquire(lockRotateAllServerKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.Engine.Execute(ctx, "global.rotate_server_keys", initiator, "", func(ctx context.Context, update *execengine.Update) error {
		servers, err := store.ListServers(ctx, o.Store)
		if err != nil {
			return err
		}
		var rotated []string
		for _, rec := range servers {
			if rec.Disabled || rec.State != "ok" {
				continue
			}
			conn, err := o.conn(rec.ID)
			if err != nil {
				continue
			}
			resp, err := mux.SendRequest[ops.RotatePeripheryKeyResponse](ctx, conn, ops.KindRotatePeripheryKey, ops.RotatePeripheryKeyRequest{}, o.Timeout)
			if err != nil {
				continue
			}
			rec.ExpectedPublicKey = string(resp.PublicKeyPEM)
			if err := store.SaveServer(ctx, o.Store, rec); err != nil {
				continue
			}
			rotated = append(rotated, rec.ID)
		}
		return update.AppendLog(execengine.LogEntry{
			Stage:     "Rotate Server Keys",
			Stdout:    strings.Join(rotated, ", "),
			Success:   true,
			StartedAt: time.Now(),
			EndedAt:   time.Now(),
		})
	})
}

// RotateCoreKeys rotates Core's own on-disk static key and pushes the new
// public key to every registered, connected Periphery so each can re-pin
// Core. Refuses up front, before creating an
// Update, if any Server is NotOk and force is false.
func (o *Operations) RotateCoreKeys(ctx context.Context, initiator, keyPath string, force bool) (*execengine.Update, error) {
	release, err := o.Global.TryAcquire(lockRotateCoreKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	if !force {
		servers, err := store.ListServers(ctx, o.Store)
		if err != nil {
			return nil, err
		}
		for _, rec := range servers {
			if !rec.Disabled && rec.State != "ok" {
				return nil, fmt.Errorf("coreops: refusing to rotate core keys, server %q is not-ok (use force)", rec.ID)
			}
		}
	}

	return o.Engine.Execute(ctx, "global.rotate_core_keys", initiator, "", func(ctx context.Context, update *execengine.Update) error {
		key, err := noise.RotateKey(keyPath)
		if err != nil {
			return err
		}
		pubPEM := noise.EncodePublicPEM(key.Public)

		var pushed []string
		for _, conn := range o.Registry.All() {
			if !conn.Connected() {
				continue
			}
			if _, err := mux.SendRequest[ops.RotateCorePubKeyResponse](ctx, conn, ops.KindRotateCorePubKey, ops.RotateCorePubKeyRequest{PublicKeyPEM: pubPEM}, o.Timeout); err != nil {
				continue
			}
			pushed = append(pushed, conn.ServerID)
		}
		return update.AppendLog(execengine.LogEntry{
			Stage:     "Rotate Core Keys",
			Stdout:    strings.Join(pushed, ", "),
			Success:   true,
			StartedAt: time.Now(),
			EndedAt:   time.Now(),
		})
	})
}

func pullSucceeded(logs []ops.LogEntry) bool {
	if len(logs) == 0 {
		return false
	}
	for _, l := range logs {
		if !l.Success {
			return false
		}
	}
	return true
}

// ClearRepoCache removes every directory at the top level of Core's repo
// cache, leaving plain files alone. Runs under its own global single-flight
// lock; a second call while one is in progress fails immediately.
func (o *Operations) ClearRepoCache(ctx context.Context, initiator, cacheDir string) (*execengine.Update, error) {
	release, err := o.Global.TryAcquire(lockClearRepoCache)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.Engine.Execute(ctx, "global.clear_repo_cache", initiator, "", func(ctx context.Context, update *execengine.Update) error {
		start := time.Now()
		removed, err := stackfiles.ClearRepoCache(cacheDir)
		entry := execengine.LogEntry{
			Stage:     "Clear Repo Cache",
			Stdout:    strings.Join(removed, "\n"),
			Success:   err == nil,
			StartedAt: start,
			EndedAt:   time.Now(),
		}
		if err != nil {
			entry.Stderr = err.Error()
		}
		if logErr := update.AppendLog(entry); logErr != nil {
			return logErr
		}
		return err
	})
}

// BackupFunc produces one database backup and returns where it landed.
type BackupFunc func(ctx context.Context) (string, error)

// BackupDatabase runs backup under the backup-database global lock,
// recording the destination path (or the failure) on the Update.
func (o *Operations) BackupDatabase(ctx context.Context, initiator string, backup BackupFunc) (*execengine.Update, error) {
	release, err := o.Global.TryAcquire(lockBackupDatabase)
	if err != nil {
		return nil, err
	}
	defer release()

	return o.Engine.Execute(ctx, "global.backup_database", initiator, "", func(ctx context.Context, update *execengine.Update) error {
		start := time.Now()
		dest, err := backup(ctx)
		entry := execengine.LogEntry{
			Stage:     "Backup Database",
			Stdout:    dest,
			Success:   err == nil,
			StartedAt: start,
			EndedAt:   time.Now(),
		}
		if err != nil {
			entry.Stderr = err.Error()
		}
		if logErr := update.AppendLog(entry); logErr != nil {
			return logErr
		}
		return err
	})
}
