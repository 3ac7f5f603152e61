package backend

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
)

// CLIAdapter runs an external command-line AI process per invocation —
// the default backend: one or more external command-line AI processes
// driven over stdin/stdout. The prompt is written to stdin; stdout is
// streamed line by line to OnDelta and accumulated as the final response.
type CLIAdapter struct {
	// Command is the executable name or path (e.g. "claude", "aider").
	Command string
	// Args are extra arguments passed before the prompt is piped in.
	Args []string
}

// NewCLIAdapter builds a CLIAdapter invoking command with args.
func NewCLIAdapter(command string, args ...string) *CLIAdapter {
	return &CLIAdapter{Command: command, Args: args}
}

// Invoke implements Adapter.
func (a *CLIAdapter) Invoke(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	cmd.Dir = req.CWD
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, cherrors.Wrap(cherrors.BackendProcess, "stdout pipe", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, cherrors.Wrap(cherrors.BackendProcess, "spawn backend process", err)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(line)
		out.WriteByte('\n')
		if req.OnDelta != nil {
			req.OnDelta(line)
		}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, cherrors.New(cherrors.BackendTimeout, "backend process exceeded node timeout")
	}
	if ctx.Err() == context.Canceled {
		return Result{}, cherrors.New(cherrors.BackendCancelled, "backend process invocation cancelled")
	}
	if waitErr != nil {
		return Result{}, cherrors.Wrap(cherrors.BackendProcess, "backend process exited with error", waitErr)
	}

	return Result{
		Response:      strings.TrimRight(out.String(), "\n"),
		DurationAPIMs: elapsed.Milliseconds(),
	}, nil
}
