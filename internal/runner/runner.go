package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stacksnap/snapferry/internal/domain"
)

// Command is one invocation of an external dump or restore tool.
type Command struct {
	Args []string
	// Env holds KEY=VALUE pairs added to the inherited environment.
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	// Paths lists host paths the tool reads or writes. Runners that isolate
	// the tool must make them reachable at the same location.
	Paths []string
}

// Runner executes collaborator commands. Any failure is a collaborator error.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	// Available reports whether the tool can be started at all.
	Available(ctx context.Context, tool string) error
}

// Redacted renders args for logging with password values masked.
func Redacted(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out); i++ {
		if out[i] == "--password" && i+1 < len(out) {
			out[i+1] = "****"
			i++
		}
	}
	return strings.Join(out, " ")
}

type Local struct {
	log zerolog.Logger
}

func NewLocal(log zerolog.Logger) *Local {
	return &Local{log: log.With().Str("runner", "local").Logger()}
}

func (l *Local) Available(ctx context.Context, tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return domain.Collaborator(tool, fmt.Errorf("binary %s not found: %w", tool, err)).
			WithSuggestion("install " + tool + " and make sure it is on the PATH, or set TOOLS_RUNNER=docker")
	}
	return nil
}

func (l *Local) Run(ctx context.Context, c Command) error {
	if len(c.Args) == 0 {
		return domain.Collaborator("exec", errors.New("empty command"))
	}
	tool := c.Args[0]
	if err := l.Available(ctx, tool); err != nil {
		return err
	}

	l.log.Info().Str("cmd", Redacted(c.Args)).Msg("exec")

	cmd := exec.CommandContext(ctx, tool, c.Args[1:]...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	stderr := NewTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.Collaborator(tool, fmt.Errorf("command failed (exit %d): %s", exitErr.ExitCode(), stderr.String()))
		}
		return domain.Collaborator(tool, err)
	}
	return nil
}

// TailBuffer keeps the last max bytes written to it. Runners use it to
// attach the end of a tool's stderr to the error they return.
type TailBuffer struct {
	buf bytes.Buffer
	max int
}

func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *TailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
