package compose

import (
	"fmt"
	"strings"
)

// ComposeCommandPlaceholder is the literal token a user-supplied wrapper
// string may contain; it is replaced with the fully composed, shell-quoted
// "docker compose ..." command line before the wrapper itself is executed
// through a shell.
const ComposeCommandPlaceholder = "[[COMPOSE_COMMAND]]"

// Target identifies one compose project: its project name and the list of
// compose files that make it up, plus an optional env file.
type Target struct {
	ProjectName string
	Files       []string
	EnvFile     string
}

func (t Target) baseArgs() []string {
	args := []string{"compose", "-p", t.ProjectName}
	for _, f := range t.Files {
		args = append(args, "-f", f)
	}
	if t.EnvFile != "" {
		args = append(args, "--env-file", t.EnvFile)
	}
	return args
}

// PullArgs composes "docker compose -p ... -f ... pull [services...]".
func PullArgs(t Target, services []string) []string {
	args := append(t.baseArgs(), "pull")
	return append(args, services...)
}

// ConfigArgs composes "docker compose -p ... -f ... config", used to
// extract the canonical service->image map and authoritative project name.
func ConfigArgs(t Target) []string {
	return append(t.baseArgs(), "config")
}

// UpOptions controls the flags passed to "docker compose ... up".
type UpOptions struct {
	Build    bool
	Pull     bool
	Services []string
}

// UpArgs composes "docker compose -p ... -f ... up -d [--build] [--pull
// always] [services...]".
func UpArgs(t Target, opts UpOptions) []string {
	args := append(t.baseArgs(), "up", "-d")
	if opts.Build {
		args = append(args, "--build")
	}
	if opts.Pull {
		args = append(args, "--pull", "always")
	}
	return append(args, opts.Services...)
}

// DownArgs composes "docker compose -p ... -f ... down [services...]"
// against a project name, used both for the normal Down flow and for
// tearing down a previous project before Up when destroy-before-deploy is
// set or the project name has changed.
func DownArgs(t Target, services []string) []string {
	args := append(t.baseArgs(), "down")
	return append(args, services...)
}

// RunOptions controls the flags passed to "docker compose ... run".
type RunOptions struct {
	Rm           bool
	Detach       bool
	NoTTY        bool
	NoDeps       bool
	ServicePorts bool
	Workdir      string
	User         string
	Entrypoint   string
	Env          []string // "KEY=VALUE" pairs, order preserved
}

// RunArgs composes "docker compose -p ... -f ... run [flags...] service
// [argv...]". Every element is its own argv entry; no shell is ever
// invoked to execute it, so no argument requires escaping for execution.
// ArgvDisplayString exists separately for rendering the same command as
// loggable text.
func RunArgs(t Target, opts RunOptions, service string, argv []string) []string {
	args := append(t.baseArgs(), "run")
	if opts.Rm {
		args = append(args, "--rm")
	}
	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.NoTTY {
		args = append(args, "--no-TTY")
	}
	if opts.NoDeps {
		args = append(args, "--no-deps")
	}
	if opts.ServicePorts {
		args = append(args, "--service-ports")
	}
	if opts.Workdir != "" {
		args = append(args, "--workdir", opts.Workdir)
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, service)
	return append(args, argv...)
}

// StackDeployArgs composes the Swarm-symmetric "docker stack deploy -c ...
// <stackName>".
func StackDeployArgs(t Target, stackName string) []string {
	args := []string{"stack", "deploy"}
	for _, f := range t.Files {
		args = append(args, "-c", f)
	}
	return append(args, stackName)
}

// StackRemoveArgs composes "docker stack rm <stackName>".
func StackRemoveArgs(stackName string) []string {
	return []string{"stack", "rm", stackName}
}

// StackConfigArgs composes "docker stack config -c ...", the Swarm analog
// of "docker compose config".
func StackConfigArgs(t Target) []string {
	args := []string{"stack", "config"}
	for _, f := range t.Files {
		args = append(args, "-c", f)
	}
	return args
}

// ArgvDisplayString renders argv as a single shell-quoted line, suitable
// for a Log's stdout/stage text or an audit trail. It is never used to
// actually execute anything; exec.Command always receives argv directly.
func ArgvDisplayString(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// ApplyWrapper substitutes ComposeCommandPlaceholder in wrapper with the
// shell-quoted "docker <argv...>" command line, producing a command string
// meant to be executed via a shell (the wrapper itself may be arbitrary
// shell text, e.g. "ssh host '[[COMPOSE_COMMAND]]'" or "nice -19
// [[COMPOSE_COMMAND]]"). Returns an error if wrapper does not contain the
// placeholder.
func ApplyWrapper(wrapper string, argv []string) (string, error) {
	if !strings.Contains(wrapper, ComposeCommandPlaceholder) {
		return "", fmt.Errorf("compose: wrapper command missing %s placeholder", ComposeCommandPlaceholder)
	}
	full := append([]string{"docker"}, argv...)
	return strings.ReplaceAll(wrapper, ComposeCommandPlaceholder, ArgvDisplayString(full)), nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quote,
// so it can be safely embedded in a POSIX shell command line.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|;&~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
