package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

type call struct {
	name string
	args []string
}

// fakeRunner scripts tool responses and records every invocation.
type fakeRunner struct {
	calls   []call
	respond func(name string, args []string) (string, string, int, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.respond == nil {
		return "", "", 0, nil
	}
	return f.respond(name, args)
}

func newTestController(runner *fakeRunner) *Controller {
	return New(runner, DefaultOptions(), logging.NewNop())
}

func TestStartInvokesSystemctl(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestController(runner)

	require.NoError(t, c.Start(context.Background(), "blog"))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "systemctl", runner.calls[0].name)
	assert.Equal(t, []string{"start", "forgeboard-blog.service"}, runner.calls[0].args)
}

func TestStartUnknownUnit(t *testing.T) {
	runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
		return "", "Failed to start forgeboard-blog.service: Unit forgeboard-blog.service not found.", 5, nil
	}}
	c := newTestController(runner)

	err := c.Start(context.Background(), "blog")
	assert.True(t, types.IsNotFound(err))
}

func TestStartPermissionDenied(t *testing.T) {
	runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
		return "", "Access denied", 1, nil
	}}
	c := newTestController(runner)

	err := c.Start(context.Background(), "blog")
	var tool *types.ExternalToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, types.ToolPermission, tool.Kind)
}

func TestStartTimeout(t *testing.T) {
	runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
		return "", "", -1, context.DeadlineExceeded
	}}
	c := newTestController(runner)

	err := c.Start(context.Background(), "blog")
	assert.True(t, types.IsTimeout(err))
}

func TestStopMissingUnitSucceeds(t *testing.T) {
	runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
		return "", "Unit forgeboard-blog.service not loaded.", 5, nil
	}}
	c := newTestController(runner)

	assert.NoError(t, c.Stop(context.Background(), "blog"))
}

func TestDisableMissingUnitSucceeds(t *testing.T) {
	runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
		return "", "Unit file forgeboard-blog.service does not exist.", 1, nil
	}}
	c := newTestController(runner)

	assert.NoError(t, c.Disable(context.Background(), "blog"))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		stdout      string
		stderr      string
		code        int
		err         error
		wantStatus  types.Status
		wantEnabled bool
	}{
		{
			name:        "active and enabled",
			stdout:      "LoadState=loaded\nActiveState=active\nSubState=running\nUnitFileState=enabled\nExecMainStatus=0\n",
			wantStatus:  types.StatusActive,
			wantEnabled: true,
		},
		{
			name:       "failed unit",
			stdout:     "LoadState=loaded\nActiveState=failed\nSubState=failed\nUnitFileState=enabled\nExecMainStatus=1\n",
			wantStatus: types.StatusFailed,
		},
		{
			name:       "inactive with clean exit",
			stdout:     "LoadState=loaded\nActiveState=inactive\nSubState=dead\nUnitFileState=disabled\nExecMainStatus=0\n",
			wantStatus: types.StatusInactive,
		},
		{
			name:       "inactive after crash counts as failed",
			stdout:     "LoadState=loaded\nActiveState=inactive\nSubState=dead\nUnitFileState=disabled\nExecMainStatus=3\n",
			wantStatus: types.StatusFailed,
		},
		{
			name:       "load state not-found",
			stdout:     "LoadState=not-found\nActiveState=inactive\nSubState=dead\nUnitFileState=\nExecMainStatus=0\n",
			wantStatus: types.StatusNotFound,
		},
		{
			name:       "newer systemd rejects unknown units outright",
			stderr:     "Unit forgeboard-blog.service could not be found.",
			code:       4,
			wantStatus: types.StatusNotFound,
		},
		{
			name:       "query failure is unknown",
			err:        assertErr{},
			code:       -1,
			wantStatus: types.StatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{respond: func(string, []string) (string, string, int, error) {
				return tt.stdout, tt.stderr, tt.code, tt.err
			}}
			c := newTestController(runner)

			detail := c.Status(context.Background(), "blog")
			assert.Equal(t, tt.wantStatus, detail.Status)
			assert.Equal(t, tt.wantEnabled, detail.Enabled)
		})
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "spawn failed" }

func TestLogs(t *testing.T) {
	runner := &fakeRunner{respond: func(name string, args []string) (string, string, int, error) {
		if name == "systemctl" {
			return "LoadState=loaded\nActiveState=active\n", "", 0, nil
		}
		return "2026-08-23T10:00:01+0000 host app[1]: line one\n2026-08-23T10:00:02+0000 host app[1]: line two\n", "", 0, nil
	}}
	c := newTestController(runner)

	records, err := c.Logs(context.Background(), "blog", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[1], "line two")

	// The journalctl invocation targets the prefixed unit.
	last := runner.calls[len(runner.calls)-1]
	assert.Equal(t, "journalctl", last.name)
	assert.Equal(t, []string{"-u", "forgeboard-blog.service", "-n", "10", "--no-pager", "--output=short-iso"}, last.args)
}

func TestLogsClampsLineCount(t *testing.T) {
	var journalArgs []string
	runner := &fakeRunner{respond: func(name string, args []string) (string, string, int, error) {
		if name == "systemctl" {
			return "LoadState=loaded\nActiveState=active\n", "", 0, nil
		}
		journalArgs = args
		return "", "", 0, nil
	}}
	c := newTestController(runner)

	_, err := c.Logs(context.Background(), "blog", 0)
	require.NoError(t, err)
	assert.Contains(t, journalArgs, "50", "zero selects the default")

	_, err = c.Logs(context.Background(), "blog", 100000)
	require.NoError(t, err)
	assert.Contains(t, journalArgs, "500", "oversized requests are clamped")
}

func TestLogsEmptyJournal(t *testing.T) {
	runner := &fakeRunner{respond: func(name string, args []string) (string, string, int, error) {
		if name == "systemctl" {
			return "LoadState=loaded\nActiveState=inactive\nExecMainStatus=0\n", "", 0, nil
		}
		return "-- No entries --\n", "", 0, nil
	}}
	c := newTestController(runner)

	records, err := c.Logs(context.Background(), "blog", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogsUnknownUnit(t *testing.T) {
	runner := &fakeRunner{respond: func(name string, args []string) (string, string, int, error) {
		return "LoadState=not-found\nActiveState=inactive\n", "", 0, nil
	}}
	c := newTestController(runner)

	_, err := c.Logs(context.Background(), "blog", 10)
	assert.True(t, types.IsNotFound(err))
	for _, call := range runner.calls {
		assert.NotEqual(t, "journalctl", call.name, "journalctl must not run for unknown units")
	}
}
