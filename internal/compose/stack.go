package compose

import "context"

// StackDeploy runs "docker stack deploy", the Swarm-symmetric counterpart
// to Up.
func (d *Driver) StackDeploy(ctx context.Context, dir string, t Target, stackName string) Log {
	return d.runStage(ctx, dir, "Stack Deploy", StackDeployArgs(t, stackName))
}

// StackRemove runs "docker stack rm".
func (d *Driver) StackRemove(ctx context.Context, dir, stackName string) Log {
	return d.runStage(ctx, dir, "Stack Remove", StackRemoveArgs(stackName))
}

// StackConfig runs "docker stack config" and parses its output the same
// way as Config.
func (d *Driver) StackConfig(ctx context.Context, dir string, t Target) (ParsedConfig, Log) {
	log := d.runStage(ctx, dir, "Stack Config", StackConfigArgs(t))
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
