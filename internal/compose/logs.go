package compose

import (
	"context"
	"strconv"
	"strings"
)

// Combinator controls how multiple search terms combine in LogQuery.
type Combinator int

const (
	CombinatorOr Combinator = iota
	CombinatorAnd
)

// LogQuery filters a container/service's log output: a tail count, a set
// of search terms, how those terms combine, and whether the match is
// inverted.
type LogQuery struct {
	Tail       int
	Terms      []string
	Combinator Combinator
	Invert     bool
}

// FetchLogsArgs composes "docker logs --tail N <container>".
func FetchLogsArgs(container string, tail int) []string {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	return append(args, container)
}

// FetchLogs runs FetchLogsArgs for container and applies q's term filter to
// the resulting lines.
func (d *Driver) FetchLogs(ctx context.Context, container string, q LogQuery) ([]string, Log) {
	log := d.runStage(ctx, "", "Fetch Logs", FetchLogsArgs(container, q.Tail))
	lines := splitLines(log.Stdout + log.Stderr)
	return FilterLines(lines, q), log
}

// FilterLines applies q's term matching (AND/OR, optionally inverted) to
// lines, independent of how those lines were produced.
func FilterLines(lines []string, q LogQuery) []string {
	if len(q.Terms) == 0 {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if matches(line, q.Terms, q.Combinator) != q.Invert {
			out = append(out, line)
		}
	}
	return out
}

func matches(line string, terms []string, c Combinator) bool {
	switch c {
	case CombinatorAnd:
		for _, term := range terms {
			if !strings.Contains(line, term) {
				return false
			}
		}
		return true
	default: // CombinatorOr
		for _, term := range terms {
			if strings.Contains(line, term) {
				return true
			}
		}
		return false
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// String renders a Combinator for logging purposes.
func (c Combinator) String() string {
	if c == CombinatorAnd {
		return "and"
	}
	return "or"
}
