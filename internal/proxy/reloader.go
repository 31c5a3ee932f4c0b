// Package proxy stages, validates, and atomically activates the aggregated
// nginx route configuration. The active include dir is the most sensitive
// shared resource in the system: only Apply writes to it, and only after
// Validate has accepted the full staged set. A malformed route for one app
// can therefore never touch, let alone break, the live routing table.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

// Runner executes an external command bounded by ctx. Satisfied by
// supervisor.ExecRunner; tests plug in a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// Options configures a Reloader.
type Options struct {
	Nginx      string
	Timeout    time.Duration
	SharedHost string
	ListenPort int
}

// Reloader owns the staging area and the active route dir.
type Reloader struct {
	runner  Runner
	layout  paths.Layout
	opts    Options
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a reloader over the given layout.
func New(runner Runner, layout paths.Layout, opts Options, log *logging.Logger) *Reloader {
	if opts.Nginx == "" {
		opts.Nginx = "nginx"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SharedHost == "" {
		opts.SharedHost = "_"
	}
	if opts.ListenPort <= 0 {
		opts.ListenPort = 80
	}
	return &Reloader{runner: runner, layout: layout, opts: opts, log: log.Named("proxy")}
}

// WithMetrics attaches reload metrics.
func (r *Reloader) WithMetrics(m *monitoring.Metrics) *Reloader {
	r.metrics = m
	return r
}

// Sync runs the full stage -> validate -> apply cycle from the current
// fragment store. On validation failure the active configuration is left
// byte-for-byte untouched.
func (r *Reloader) Sync(ctx context.Context) error {
	if err := r.Stage(); err != nil {
		r.metrics.RecordProxyReload("stage-error")
		return err
	}
	if err := r.Validate(ctx); err != nil {
		r.metrics.RecordProxyReload("invalid")
		return err
	}
	if err := r.Apply(ctx); err != nil {
		r.metrics.RecordProxyReload("apply-error")
		return err
	}
	r.metrics.RecordProxyReload("ok")
	return nil
}

// stagedRoutes is the candidate route set inside the staging dir.
func (r *Reloader) stagedRoutes() string {
	return filepath.Join(r.layout.StagingDir, "routes")
}

func (r *Reloader) shimPath() string {
	return filepath.Join(r.layout.StagingDir, "nginx-validate.conf")
}

// Stage rebuilds the staging area as a copy of the fragment store plus a
// self-contained shim config that lets nginx -t parse the set in
// isolation, without reading the host's live configuration.
func (r *Reloader) Stage() error {
	staged := r.stagedRoutes()
	if err := os.RemoveAll(staged); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	for _, sub := range []string{paths.ServersSubdir, paths.LocationsSubdir} {
		if err := os.MkdirAll(filepath.Join(staged, sub), 0o755); err != nil {
			return fmt.Errorf("create staging: %w", err)
		}
	}

	pattern := filepath.Join(r.layout.FragmentsDir,
		"{"+paths.ServersSubdir+","+paths.LocationsSubdir+"}", paths.RouteGlob)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("glob fragments: %w", err)
	}
	for _, src := range matches {
		sub := filepath.Base(filepath.Dir(src))
		dst := filepath.Join(staged, sub, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("stage fragment %s: %w", src, err)
		}
	}

	shim := r.renderShim(staged)
	if err := os.WriteFile(r.shimPath(), []byte(shim), 0o644); err != nil {
		return fmt.Errorf("write validation shim: %w", err)
	}
	r.log.Debug("route set staged", zap.Int("fragments", len(matches)))
	return nil
}

// renderShim produces a minimal nginx config including the staged set the
// same way the live entry file includes the active dir.
func (r *Reloader) renderShim(staged string) string {
	var sb strings.Builder
	sb.WriteString("pid " + filepath.Join(r.layout.StagingDir, "nginx-validate.pid") + ";\n")
	sb.WriteString("error_log stderr;\n")
	sb.WriteString("events {}\n")
	sb.WriteString("http {\n")
	sb.WriteString("    access_log off;\n")
	sb.WriteString("    include " + filepath.Join(staged, paths.ServersSubdir, "*.conf") + ";\n")
	sb.WriteString("    server {\n")
	sb.WriteString(fmt.Sprintf("        listen %d;\n", r.opts.ListenPort))
	sb.WriteString("        server_name " + r.opts.SharedHost + ";\n")
	sb.WriteString("        include " + filepath.Join(staged, paths.LocationsSubdir, "*.conf") + ";\n")
	sb.WriteString("    }\n")
	sb.WriteString("}\n")
	return sb.String()
}

// Validate invokes nginx's own syntax checker against the staged set. The
// active configuration is not involved at all.
func (r *Reloader) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	_, stderr, code, err := r.runner.Run(ctx, r.opts.Nginx,
		"-t", "-q", "-c", r.shimPath(), "-p", r.layout.StagingDir)
	r.record("validate", code, err, time.Since(start))

	if err != nil {
		return r.toolError("-t", stderr, err)
	}
	if code != 0 {
		return &types.ConfigRenderError{Artifact: "route", Detail: strings.TrimSpace(stderr)}
	}
	return nil
}

// Apply atomically swaps the validated staged set into the active dir,
// ensures the entry site exists, and signals nginx to reload gracefully.
// The swap is two renames; the staging dir must live on the same
// filesystem as the active dir.
func (r *Reloader) Apply(ctx context.Context) error {
	active := r.layout.ActiveDir
	previous := active + ".prev"

	if err := os.RemoveAll(previous); err != nil {
		return fmt.Errorf("clear previous route set: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(active), 0o755); err != nil {
		return fmt.Errorf("create active parent: %w", err)
	}
	if _, err := os.Stat(active); err == nil {
		if err := os.Rename(active, previous); err != nil {
			return fmt.Errorf("retire active route set: %w", err)
		}
	}
	if err := os.Rename(r.stagedRoutes(), active); err != nil {
		// Put the old set back so the include target keeps existing.
		if _, statErr := os.Stat(previous); statErr == nil {
			_ = os.Rename(previous, active)
		}
		return fmt.Errorf("activate staged route set: %w", err)
	}
	_ = os.RemoveAll(previous)

	if err := r.ensureEntry(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	_, stderr, code, err := r.runner.Run(ctx, r.opts.Nginx, "-s", "reload")
	r.record("reload", code, err, time.Since(start))

	if err != nil {
		return r.toolError("-s reload", stderr, err)
	}
	if code != 0 {
		return &types.ExternalToolError{Tool: r.opts.Nginx, Verb: "-s reload",
			Kind: types.ToolFailed, Detail: strings.TrimSpace(stderr)}
	}
	r.log.Info("proxy reloaded")
	return nil
}

// ensureEntry writes the single site file that wires the active dir into
// the host nginx, and its sites-enabled symlink. Idempotent.
func (r *Reloader) ensureEntry() error {
	var sb strings.Builder
	sb.WriteString("# Managed by forgeboardd. Do not edit: regenerated on every apply.\n")
	sb.WriteString("include " + filepath.Join(r.layout.ActiveDir, paths.ServersSubdir, "*.conf") + ";\n")
	sb.WriteString("server {\n")
	sb.WriteString(fmt.Sprintf("    listen %d;\n", r.opts.ListenPort))
	sb.WriteString("    server_name " + r.opts.SharedHost + ";\n")
	sb.WriteString("    include " + filepath.Join(r.layout.ActiveDir, paths.LocationsSubdir, "*.conf") + ";\n")
	sb.WriteString("}\n")
	content := sb.String()

	entry := filepath.Join(r.layout.SitesAvailable, paths.EntryFileName)
	existing, err := os.ReadFile(entry)
	if err != nil || string(existing) != content {
		if err := os.MkdirAll(r.layout.SitesAvailable, 0o755); err != nil {
			return fmt.Errorf("create sites-available: %w", err)
		}
		if err := os.WriteFile(entry, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write entry site: %w", err)
		}
	}

	link := filepath.Join(r.layout.SitesEnabled, paths.EntryFileName)
	if target, err := os.Readlink(link); err != nil || target != entry {
		if err := os.MkdirAll(r.layout.SitesEnabled, 0o755); err != nil {
			return fmt.Errorf("create sites-enabled: %w", err)
		}
		_ = os.Remove(link)
		if err := os.Symlink(entry, link); err != nil {
			return fmt.Errorf("enable entry site: %w", err)
		}
	}
	return nil
}

func (r *Reloader) toolError(verb, stderr string, err error) error {
	kind := types.ToolMissing
	if errors.Is(err, context.DeadlineExceeded) {
		kind = types.ToolTimeout
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return &types.ExternalToolError{Tool: r.opts.Nginx, Verb: verb, Kind: kind, Detail: detail, Err: err}
}

func (r *Reloader) record(verb string, code int, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil || code != 0 {
		outcome = "error"
	}
	r.metrics.RecordToolCall(r.opts.Nginx, verb, outcome, elapsed)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
