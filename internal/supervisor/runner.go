package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner executes an external command bounded by ctx. Swappable so tests
// never shell out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands through os/exec. The zero value is usable.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

// Run executes the command and captures both streams. A non-zero exit is
// not an error here; callers translate exit codes and stderr into the
// error taxonomy. err is non-nil when the command could not be spawned or
// the context expired.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	stdout := outBuf.String()
	stderr := errBuf.String()

	if ctx.Err() != nil {
		return stdout, stderr, -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}
