// Package compose implements the Periphery-side Docker Compose and Swarm
// stack driver: deterministic argv composition, timed subprocess execution,
// and `docker compose config` YAML introspection.
package compose

import "time"

// Log is one stage of a compose/stack action's execution trail.
type Log struct {
	Stage     string    `json:"stage"`
	Stdout    string    `json:"stdout,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	Success   bool      `json:"success"`
	StartedAt time.Time `json:"startTs"`
	EndedAt   time.Time `json:"endTs"`
}
