package compose

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single compose/stack subprocess invocation.
const DefaultTimeout = 10 * time.Minute

// Runner executes argv as a subprocess, honoring ctx cancellation. It is a
// seam for tests; production code uses ExecRunner.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout, stderr string, err error)
}

// ExecRunner runs argv directly via os/exec, never through a shell: every
// element of argv is its own process argument, so none of it is subject to
// shell interpretation.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	if len(argv) == 0 {
		return "", "", fmt.Errorf("compose: empty argv")
	}
	cmd := exec.CommandContext(ctx, "docker", argv...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// ShellRunner runs a single pre-composed shell command line via "sh -c",
// used only for the wrapper-command path (ComposeCommandPlaceholder), where the command is inherently a shell
// string supplied by the operator rather than a plain argv.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, dir string, line string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Driver runs Compose/Swarm actions against one target directory, producing
// a Log per stage. A non-zero exit marks that stage's Log !success and the
// pipeline calling it short-circuits.
type Driver struct {
	runner  Runner
	shell   ShellRunner
	timeout time.Duration
}

func NewDriver(runner Runner) *Driver {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Driver{runner: runner, timeout: DefaultTimeout}
}

func (d *Driver) WithTimeout(timeout time.Duration) *Driver {
	d.timeout = timeout
	return d
}

func (d *Driver) runStage(ctx context.Context, dir, stage string, argv []string) Log {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(ctx, dir, argv)
	return Log{
		Stage:     stage,
		Stdout:    stdout,
		Stderr:    stderr,
		Success:   err == nil,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

// Pull runs the pull stage for t. Callers are expected to have already
// materialized the run-directory (Git checkout or file-on-host write
// through the secret-replacer pipeline) and logged in to any configured
// image registries before calling this.
func (d *Driver) Pull(ctx context.Context, dir string, t Target, services []string) Log {
	return d.runStage(ctx, dir, "Pull", PullArgs(t, services))
}

// Down runs the down stage for t.
func (d *Driver) Down(ctx context.Context, dir string, t Target, services []string) Log {
	return d.runStage(ctx, dir, "Down", DownArgs(t, services))
}

// PsArgs composes "docker ps -a --format {{json .}}", one JSON object per
// line, used by the Periphery status poller.
func PsArgs() []string {
	return []string{"ps", "-a", "--format", "{{json .}}"}
}

// Ps lists every container on the host, one `docker ps` JSON object per
// output line; the caller decodes each line into its own summary type.
func (d *Driver) Ps(ctx context.Context) (string, Log) {
	log := d.runStage(ctx, "", "Ps", PsArgs())
	return log.Stdout, log
}

// Config runs "docker compose config" and parses its output.
func (d *Driver) Config(ctx context.Context, dir string, t Target) (ParsedConfig, Log) {
	log := d.runStage(ctx, dir, "Config", ConfigArgs(t))
	if !log.Success {
		return ParsedConfig{}, log
	}
	parsed, err := ParseComposeConfig([]byte(log.Stdout))
	if err != nil {
		log.Success = false
		log.Stderr += "\n" + err.Error()
	}
	return parsed, log
}

// Run executes "docker compose run" with opts and argv.
func (d *Driver) Run(ctx context.Context, dir string, t Target, opts RunOptions, service string, argv []string) Log {
	return d.runStage(ctx, dir, "Run", RunArgs(t, opts, service, argv))
}

// UpPlan is the full set of decisions and hooks around one Up invocation
//: optional pre/post-deploy commands, the previous
// project name to tear down first (empty if none), and the wrapper string
// to apply to the final "up -d" invocation (empty for none).
type UpPlan struct {
	PreDeployCommand   string
	PostDeployCommand  string
	PreviousProject    string // non-empty if destroy-before-deploy or project renamed
	Options            UpOptions
	Wrapper            string
}

// UpResult is the outcome of a full Up flow.
type UpResult struct {
	Logs     []Log
	Config   ParsedConfig
	Deployed bool
}

// Up runs the full Up flow: optional pre-deploy, config extraction, optional
// build/pull, down of the previous project if needed, then up -d (optionally
// through a wrapper), then optional post-deploy. The pipeline stops at the
// first failed stage.
func (d *Driver) Up(ctx context.Context, dir string, t Target, plan UpPlan) UpResult {
	var result UpResult

	if plan.PreDeployCommand != "" {
		log := d.runShellStage(ctx, dir, "Pre-deploy", plan.PreDeployCommand)
		result.Logs = append(result.Logs, log)
		if !log.Success {
			return result
		}
	}

	parsed, configLog := d.Config(ctx, dir, t)
	result.Logs = append(result.Logs, configLog)
	if !configLog.Success {
		return result
	}
	result.Config = parsed

	if plan.Options.Build {
		buildLog := d.runStage(ctx, dir, "Build", append(t.baseArgs(), "build"))
		result.Logs = append(result.Logs, buildLog)
		if !buildLog.Success {
			return result
		}
	}

	if plan.Options.Pull {
		pullLog := d.Pull(ctx, dir, t, nil)
		result.Logs = append(result.Logs, pullLog)
		if !pullLog.Success {
			return result
		}
	}

	if plan.PreviousProject != "" && plan.PreviousProject != t.ProjectName {
		downTarget := t
		downTarget.ProjectName = plan.PreviousProject
		downLog := d.Down(ctx, dir, downTarget, nil)
		result.Logs = append(result.Logs, downLog)
		if !downLog.Success {
			return result
		}
	}

	upArgv := UpArgs(t, plan.Options)
	var upLog Log
	if plan.Wrapper != "" {
		line, err := ApplyWrapper(plan.Wrapper, upArgv)
		if err != nil {
			upLog = Log{Stage: "Up", Stderr: err.Error(), Success: false, StartedAt: time.Now(), EndedAt: time.Now()}
		} else {
			upLog = d.runShellStage(ctx, dir, "Up", line)
		}
	} else {
		upLog = d.runStage(ctx, dir, "Up", upArgv)
	}
	result.Logs = append(result.Logs, upLog)
	if !upLog.Success {
		return result
	}
	result.Deployed = true

	if plan.PostDeployCommand != "" {
		postLog := d.runShellStage(ctx, dir, "Post-deploy", plan.PostDeployCommand)
		result.Logs = append(result.Logs, postLog)
	}

	return result
}

func (d *Driver) runShellStage(ctx context.Context, dir, stage, line string) Log {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	stdout, stderr, err := d.shell.Run(ctx, dir, line)
	return Log{
		Stage:     stage,
		Stdout:    stdout,
		Stderr:    stderr,
		Success:   err == nil,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}
