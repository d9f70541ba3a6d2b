package terminal

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
)

// execStartSentinel and execEndSentinel delimit the output of a one-shot
// command run inside an existing terminal.
const (
	execStartSentinel = "START"
	execEndSentinel   = "END"
	exitCodePrefix    = "KOMODO_EXIT_CODE"
)

// ExecWrapCommand wraps cmd so its exit code is surfaced in-band on the
// terminal's own stdout stream, delimited by start/end sentinels, letting a
// single PTY carry both interactive use and one-shot command execution
// without a side channel.
func ExecWrapCommand(cmd string) string {
	return fmt.Sprintf("printf '\\n%s\\n\\n'; %s; rc=$?; printf '\\n%s%%d\\n%s\\n' \"$rc\"\n", execStartSentinel, cmd, exitCodePrefix, execEndSentinel)
}

// ExecResult is the outcome of a one-shot Run: everything the wrapped
// command wrote to the PTY between the start and end sentinels, and its
// parsed exit code.
type ExecResult struct {
	Output   []byte
	ExitCode int
}

// RunExec writes ExecWrapCommand(cmd) to term's stdin and collects output
// until the end sentinel appears, returning the command's own output (with
// the sentinels and exit-code line stripped) and its parsed exit code. It
// does not kill or otherwise alter the terminal; the wrapped command simply
// runs to completion inside it like any other input.
func RunExec(ctx context.Context, term *Terminal, cmd string) (ExecResult, error) {
	subID, ch := term.Subscribe(4096)
	defer term.Unsubscribe(subID)

	if err := term.Write([]byte(ExecWrapCommand(cmd))); err != nil {
		return ExecResult{}, fmt.Errorf("terminal: writing exec wrapper: %w", err)
	}

	var buf bytes.Buffer
	started := false
	for {
		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-term.Done():
			return ExecResult{}, fmt.Errorf("terminal: terminal exited before exec completed")
		case data, ok := <-ch:
			if !ok {
				return ExecResult{}, fmt.Errorf("terminal: subscription closed before exec completed")
			}
			buf.Write(data)

			if !started {
				if idx := bytes.Index(buf.Bytes(), []byte(execStartSentinel+"\n")); idx >= 0 {
					started = true
					buf.Next(idx + len(execStartSentinel) + 1)
				} else {
					continue
				}
			}

			if idx := bytes.Index(buf.Bytes(), []byte("\n"+execEndSentinel+"\n")); idx >= 0 {
				output := buf.Bytes()[:idx]
				return parseExecOutput(output)
			}
		}
	}
}

func parseExecOutput(raw []byte) (ExecResult, error) {
	marker := []byte("\n" + exitCodePrefix)
	idx := bytes.LastIndex(raw, marker)
	if idx < 0 {
		return ExecResult{}, fmt.Errorf("terminal: exec output missing %s sentinel", exitCodePrefix)
	}

	output := raw[:idx]
	rest := raw[idx+len(marker):]
	end := bytes.IndexByte(rest, '\n')
	if end < 0 {
		end = len(rest)
	}
	code, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		return ExecResult{}, fmt.Errorf("terminal: parsing exit code: %w", err)
	}

	return ExecResult{Output: bytes.TrimSuffix(output, []byte("\n")), ExitCode: code}, nil
}
