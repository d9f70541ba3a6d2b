// Package ops defines the request kinds and JSON payload shapes Core sends
// to Periphery over the mux. Both internal/coreops (Core side) and internal/peripheryapp
// (Periphery side) import this package so the two ends agree on the wire
// shape without either depending on the other.
package ops

import (
	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/compose"
	"github.com/dockfleet/conduit/internal/stackfiles"
)

// Request kinds, carried as RequestEnvelope.Kind.
const (
	KindComposePull        = "compose.pull"
	KindComposeUp          = "compose.up"
	KindComposeDown        = "compose.down"
	KindComposeRun         = "compose.run"
	KindStackDeploy        = "stack.deploy"
	KindStackRemove        = "stack.remove"
	KindStackConfig        = "stack.config"
	KindFetchLogs          = "logs.fetch"
	KindConnectTerminal    = "terminal.connect"
	KindDisconnectTerminal = "terminal.disconnect"
	KindExecInTerminal     = "terminal.exec"
	KindRotatePeripheryKey = "rotate.periphery_key"
	KindRotateCorePubKey   = "rotate.core_public_key"
	KindPeripheryStatus    = "periphery.status"
)

// LogEntry mirrors compose.Log across the wire; kept separate from
// execengine.LogEntry so this package has no dependency on execengine.
type LogEntry = compose.Log

// ComposePullRequest drives the full pull pipeline on the target host:
// materialize the run directory from Source (Git pull-or-clone, or
// files-on-host written through the secret replacer), log in to any
// configured registries, then Driver.Pull.
type ComposePullRequest struct {
	Dir        string                       `json:"dir"`
	Target     compose.Target               `json:"target"`
	Services   []string                     `json:"services,omitempty"`
	Source     *stackfiles.Source           `json:"source,omitempty"`
	Registries []compose.RegistryCredential `json:"registries,omitempty"`
}

type ComposePullResponse struct {
	Logs []LogEntry `json:"logs"`
}

// ComposeUpRequest drives the full Driver.Up flow, with the same optional
// run-directory materialization and registry logins as ComposePullRequest.
type ComposeUpRequest struct {
	Dir        string                       `json:"dir"`
	Target     compose.Target               `json:"target"`
	Plan       compose.UpPlan               `json:"plan"`
	Source     *stackfiles.Source           `json:"source,omitempty"`
	Registries []compose.RegistryCredential `json:"registries,omitempty"`
}

type ComposeUpResponse struct {
	Logs     []LogEntry            `json:"logs"`
	Config   compose.ParsedConfig  `json:"config"`
	Deployed bool                  `json:"deployed"`
}

type ComposeDownRequest struct {
	Dir      string         `json:"dir"`
	Target   compose.Target `json:"target"`
	Services []string       `json:"services,omitempty"`
}

type ComposeDownResponse struct {
	Log LogEntry `json:"log"`
}

type ComposeRunRequest struct {
	Dir     string              `json:"dir"`
	Target  compose.Target      `json:"target"`
	Options compose.RunOptions  `json:"options"`
	Service string              `json:"service"`
	Argv    []string            `json:"argv,omitempty"`
}

type ComposeRunResponse struct {
	Log LogEntry `json:"log"`
}

type StackDeployRequest struct {
	Dir       string         `json:"dir"`
	Target    compose.Target `json:"target"`
	StackName string         `json:"stackName"`
}

type StackDeployResponse struct {
	Log LogEntry `json:"log"`
}

type StackRemoveRequest struct {
	Dir       string `json:"dir"`
	StackName string `json:"stackName"`
}

type StackRemoveResponse struct {
	Log LogEntry `json:"log"`
}

type StackConfigRequest struct {
	Dir    string         `json:"dir"`
	Target compose.Target `json:"target"`
}

type StackConfigResponse struct {
	Config compose.ParsedConfig `json:"config"`
	Log    LogEntry             `json:"log"`
}

type FetchLogsRequest struct {
	Container string           `json:"container"`
	Query     compose.LogQuery `json:"query"`
}

type FetchLogsResponse struct {
	Lines []string `json:"lines"`
	Log   LogEntry `json:"log"`
}

// ConnectTerminalRequest asks Periphery to get-or-create a named terminal
// (a plain shell terminal, or a container exec/attach variant when
// Container is non-empty) and return a fresh channel id bound to it.
type ConnectTerminalRequest struct {
	Name          string   `json:"name"`
	Command       []string `json:"command,omitempty"`
	Dir           string   `json:"dir,omitempty"`
	Recreation    int      `json:"recreation"`
	Container     string   `json:"container,omitempty"`
	ContainerMode int      `json:"containerMode,omitempty"`
	Shell         string   `json:"shell,omitempty"`
}

type ConnectTerminalResponse struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type DisconnectTerminalRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
}

// ExecInTerminalRequest runs a one-shot command inside an existing named
// terminal.
type ExecInTerminalRequest struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

type ExecInTerminalResponse struct {
	Output   []byte `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// RotatePeripheryKeyRequest has no fields; Periphery rotates its own
// on-disk static key and returns the new public key PEM.
type RotatePeripheryKeyRequest struct{}

type RotatePeripheryKeyResponse struct {
	PublicKeyPEM []byte `json:"publicKeyPem"`
}

// RotateCorePubKeyRequest pushes Core's freshly rotated public key to a
// Periphery so it can re-pin Core for future handshakes.
type RotateCorePubKeyRequest struct {
	PublicKeyPEM []byte `json:"publicKeyPem"`
}

type RotateCorePubKeyResponse struct{}

// ContainerSummary is one entry of PeripheryStatusResponse.Containers.
type ContainerSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	State string `json:"state"`
}

// PeripheryStatusResponse is the periodic poll payload.
type PeripheryStatusResponse struct {
	Hostname   string             `json:"hostname"`
	Containers []ContainerSummary `json:"containers"`
	Images     []string           `json:"images,omitempty"`
	Networks   []string           `json:"networks,omitempty"`
	Volumes    []string           `json:"volumes,omitempty"`
	Projects   []string           `json:"projects,omitempty"`
}
