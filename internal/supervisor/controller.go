// Package supervisor wraps the systemd control surface behind a narrow
// capability interface. Raw systemctl/journalctl exit codes and stderr are
// translated into the engine's error taxonomy; tool output never leaks
// into application logic.
package supervisor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

// Options configures a Controller.
type Options struct {
	Systemctl  string
	Journalctl string
	// Timeout bounds every control verb; LogTimeout bounds journalctl.
	Timeout    time.Duration
	LogTimeout time.Duration
	// DefaultLogLines and MaxLogLines bound log retrieval.
	DefaultLogLines int
	MaxLogLines     int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Systemctl:       "systemctl",
		Journalctl:      "journalctl",
		Timeout:         10 * time.Second,
		LogTimeout:      5 * time.Second,
		DefaultLogLines: 50,
		MaxLogLines:     500,
	}
}

// Controller issues supervisor control verbs for app units.
type Controller struct {
	runner  Runner
	opts    Options
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a controller. metrics may be nil.
func New(runner Runner, opts Options, log *logging.Logger) *Controller {
	if opts.Systemctl == "" {
		opts.Systemctl = "systemctl"
	}
	if opts.Journalctl == "" {
		opts.Journalctl = "journalctl"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.LogTimeout <= 0 {
		opts.LogTimeout = 5 * time.Second
	}
	if opts.DefaultLogLines <= 0 {
		opts.DefaultLogLines = 50
	}
	if opts.MaxLogLines <= 0 {
		opts.MaxLogLines = 500
	}
	return &Controller{runner: runner, opts: opts, log: log.Named("supervisor")}
}

// WithMetrics attaches tool call metrics.
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// Start starts the unit for slug.
func (c *Controller) Start(ctx context.Context, slug string) error {
	return c.control(ctx, "start", slug)
}

// Stop stops the unit for slug. Stopping a unit that is not loaded is
// success: the desired state already holds.
func (c *Controller) Stop(ctx context.Context, slug string) error {
	err := c.control(ctx, "stop", slug)
	if types.IsNotFound(err) {
		return nil
	}
	return err
}

// Restart restarts the unit for slug.
func (c *Controller) Restart(ctx context.Context, slug string) error {
	return c.control(ctx, "restart", slug)
}

// Enable enables the unit for slug so it survives reboots.
func (c *Controller) Enable(ctx context.Context, slug string) error {
	return c.control(ctx, "enable", slug)
}

// Disable disables the unit for slug.
func (c *Controller) Disable(ctx context.Context, slug string) error {
	err := c.control(ctx, "disable", slug)
	if types.IsNotFound(err) {
		return nil
	}
	return err
}

// DaemonReload makes systemd re-read unit files after a write or removal.
func (c *Controller) DaemonReload(ctx context.Context) error {
	_, _, err := c.systemctl(ctx, "daemon-reload")
	return err
}

// Status queries the supervisor and maps the result:
// unit absent -> NotFound; query error or timeout -> Unknown; actively
// running -> Active; present with nonzero last exit -> Failed; otherwise
// Inactive. Never an error: status is always answerable.
func (c *Controller) Status(ctx context.Context, slug string) types.StatusDetail {
	unitName := paths.UnitName(slug)
	stdout, _, err := c.systemctl(ctx, "show", unitName,
		"--property=LoadState,ActiveState,SubState,UnitFileState,ExecMainStatus", "--no-pager")
	if types.IsNotFound(err) {
		// Newer systemd exits non-zero for unknown units instead of
		// reporting LoadState=not-found.
		return types.StatusDetail{Status: types.StatusNotFound}
	}
	if err != nil {
		c.log.Warn("status query failed", zap.String("slug", slug), zap.Error(err))
		return types.StatusDetail{Status: types.StatusUnknown, Raw: err.Error()}
	}

	props := parseProperties(stdout)
	raw := props["ActiveState"]
	detail := types.StatusDetail{Raw: raw, Enabled: props["UnitFileState"] == "enabled"}

	switch {
	case props["LoadState"] == "not-found" || props["LoadState"] == "":
		detail.Status = types.StatusNotFound
	case raw == "active":
		detail.Status = types.StatusActive
	case raw == "failed":
		detail.Status = types.StatusFailed
	default:
		if code, convErr := strconv.Atoi(props["ExecMainStatus"]); convErr == nil && code != 0 {
			detail.Status = types.StatusFailed
		} else {
			detail.Status = types.StatusInactive
		}
	}
	return detail
}

// Logs returns up to lines most-recent journal records for slug. lines is
// clamped to [1, MaxLogLines]; zero or negative selects the default.
// Fails with NotFound when no unit exists for slug.
func (c *Controller) Logs(ctx context.Context, slug string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = c.opts.DefaultLogLines
	}
	if lines > c.opts.MaxLogLines {
		lines = c.opts.MaxLogLines
	}

	if detail := c.Status(ctx, slug); detail.Status == types.StatusNotFound {
		return nil, &types.NotFoundError{Slug: slug, Resource: "unit"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.LogTimeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, code, err := c.runner.Run(ctx, c.opts.Journalctl,
		"-u", paths.UnitName(slug), "-n", strconv.Itoa(lines), "--no-pager", "--output=short-iso")
	c.record(c.opts.Journalctl, "logs", code, err, time.Since(start))

	if err != nil {
		return nil, c.translate(c.opts.Journalctl, "logs", stderr, err)
	}
	if code != 0 {
		return nil, c.classifyExit(c.opts.Journalctl, "logs", slug, stderr, code)
	}

	out := strings.TrimRight(stdout, "\n")
	if out == "" || strings.HasPrefix(out, "-- No entries") {
		return []string{}, nil
	}
	records := strings.Split(out, "\n")
	if len(records) > lines {
		records = records[len(records)-lines:]
	}
	return records, nil
}

// control runs one systemctl verb against the unit for slug.
func (c *Controller) control(ctx context.Context, verb, slug string) error {
	_, _, err := c.systemctl(ctx, verb, paths.UnitName(slug))
	return err
}

// systemctl runs systemctl with a bounded timeout and translates failures.
func (c *Controller) systemctl(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	verb := args[0]
	start := time.Now()
	stdout, stderr, code, err := c.runner.Run(ctx, c.opts.Systemctl, args...)
	c.record(c.opts.Systemctl, verb, code, err, time.Since(start))

	if err != nil {
		return stdout, stderr, c.translate(c.opts.Systemctl, verb, stderr, err)
	}
	if code != 0 {
		slug := ""
		if len(args) > 1 {
			slug = paths.SlugFromUnit(args[1])
		}
		return stdout, stderr, c.classifyExit(c.opts.Systemctl, verb, slug, stderr, code)
	}
	return stdout, stderr, nil
}

// translate maps spawn and context errors.
func (c *Controller) translate(tool, verb, stderr string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &types.ExternalToolError{Tool: tool, Verb: verb, Kind: types.ToolTimeout, Detail: firstLine(stderr), Err: err}
	default:
		return &types.ExternalToolError{Tool: tool, Verb: verb, Kind: types.ToolMissing, Detail: err.Error(), Err: err}
	}
}

// classifyExit maps a non-zero exit into the taxonomy using stderr text.
func (c *Controller) classifyExit(tool, verb, slug, stderr string, code int) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not loaded") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist"):
		return &types.NotFoundError{Slug: slug, Resource: "unit"}
	case strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "authentication required"):
		return &types.ExternalToolError{Tool: tool, Verb: verb, Kind: types.ToolPermission, Detail: firstLine(stderr)}
	default:
		return &types.ExternalToolError{Tool: tool, Verb: verb, Kind: types.ToolFailed,
			Detail: firstLine(stderr) + " (exit " + strconv.Itoa(code) + ")"}
	}
}

func (c *Controller) record(tool, verb string, code int, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil || code != 0 {
		outcome = "error"
	}
	c.metrics.RecordToolCall(tool, verb, outcome, elapsed)
}

// parseProperties parses systemctl show Key=Value output.
func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if key, value, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			props[key] = value
		}
	}
	return props
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
