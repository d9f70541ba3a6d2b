package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ContainerMode selects how a container terminal attaches to its target.
type ContainerMode int

const (
	// ContainerExec runs a fresh shell inside the container via "docker
	// exec -it".
	ContainerExec ContainerMode = iota
	// ContainerAttach attaches to the container's own PID 1 via "docker
	// attach".
	ContainerAttach
)

// containerArgTokens are the only characters we refuse in a container name
// or shell, since both end up as argv elements passed straight to exec.Command
// rather than a shell, so there is no injection risk beyond a caller
// smuggling in shell metacharacters that would only matter if this ever grew
// a shell-string code path. We reject them anyway as a sanity check against
// obviously wrong input.
var containerArgTokens = []string{"&&", "|", ";", "`", "$("}

// ContainerCommand builds the argv for a container exec or attach terminal.
// It never constructs a shell string: each argument is passed as its own
// argv element to exec.Command, so shell metacharacters in container or
// shell have no special meaning to the invoked process. They are still
// rejected here because a name containing them almost certainly indicates a
// caller error rather than a legitimate container name.
func ContainerCommand(mode ContainerMode, container, shell string) ([]string, error) {
	if container == "" {
		return nil, fmt.Errorf("terminal: container name must not be empty")
	}
	if err := rejectShellMetacharacters(container); err != nil {
		return nil, err
	}

	switch mode {
	case ContainerExec:
		if shell == "" {
			shell = "/bin/sh"
		}
		if err := rejectShellMetacharacters(shell); err != nil {
			return nil, err
		}
		return []string{"docker", "exec", "-it", container, shell}, nil
	case ContainerAttach:
		return []string{"docker", "attach", "--sig-proxy=false", container}, nil
	default:
		return nil, fmt.Errorf("terminal: unknown container mode %d", mode)
	}
}

func rejectShellMetacharacters(s string) error {
	for _, tok := range containerArgTokens {
		if strings.Contains(s, tok) {
			return fmt.Errorf("terminal: %q contains disallowed sequence %q", s, tok)
		}
	}
	return nil
}

// SpawnContainerTerminal starts a container exec/attach terminal under the
// manager, using container as both the registration name and the attach
// target so repeated requests against the same container reuse or recreate
// per policy exactly as a shell terminal would.
func SpawnContainerTerminal(ctx context.Context, m *Manager, mode ContainerMode, container, shell string, policy RecreationPolicy, logger *slog.Logger) (*Terminal, error) {
	argv, err := ContainerCommand(mode, container, shell)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("container:%s", container)
	return m.GetOrCreate(ctx, name, argv, "", policy)
}
