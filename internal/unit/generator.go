// Package unit renders and manages systemd unit files derived from app
// records. Units are never hand-edited: on any mismatch, regeneration from
// the registry wins.
package unit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

const unitTemplate = `[Unit]
Description={{.Description}}
After=network.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
Environment=PORT={{.Port}}
{{- if .Virtualenv}}
Environment=VIRTUAL_ENV={{.Virtualenv}}
Environment=PATH={{.Virtualenv}}/bin:/usr/local/bin:/usr/bin:/bin
{{- end}}
ExecStart={{.Command}}
Restart=on-failure
RestartSec=5
User={{.User}}
Group={{.Group}}

[Install]
WantedBy=multi-user.target
`

// Generator renders unit files into a systemd unit directory.
type Generator struct {
	dir  string
	user string
	grp  string
	tmpl *template.Template
	log  *logging.Logger
}

// New creates a generator writing into dir. Processes run as user/group
// www-data unless overridden with RunAs.
func New(dir string, log *logging.Logger) *Generator {
	return &Generator{
		dir:  dir,
		user: "www-data",
		grp:  "www-data",
		tmpl: template.Must(template.New("unit").Parse(unitTemplate)),
		log:  log.Named("unit"),
	}
}

// RunAs overrides the service user and group.
func (g *Generator) RunAs(user, group string) *Generator {
	g.user = user
	g.grp = group
	return g
}

// Path returns the unit file path for slug.
func (g *Generator) Path(slug string) string {
	return filepath.Join(g.dir, paths.UnitName(slug))
}

// Command returns the supervised command line for an app, chosen by the
// closed type enum.
func Command(app types.App) (string, error) {
	bin := func(name string) string {
		if app.Virtualenv != "" {
			return filepath.Join(app.Virtualenv, "bin", name)
		}
		return name
	}

	switch app.Type {
	case types.TypeFlask:
		return fmt.Sprintf("%s --workers 2 --bind 127.0.0.1:%d %s:app",
			bin("gunicorn"), app.Port, moduleName(app.Entrypoint)), nil
	case types.TypeFastAPI:
		return fmt.Sprintf("%s %s:app --host 127.0.0.1 --port %d",
			bin("uvicorn"), moduleName(app.Entrypoint), app.Port), nil
	case types.TypeDjango:
		return fmt.Sprintf("%s --workers 2 --bind 127.0.0.1:%d %s:application",
			bin("gunicorn"), app.Port, moduleName(app.Entrypoint)), nil
	case types.TypeGeneric:
		// Entrypoint is the full command line for generic apps.
		return app.Entrypoint, nil
	default:
		return "", &types.ConfigRenderError{Artifact: "unit", Slug: app.Slug,
			Detail: fmt.Sprintf("no unit template for type %q", app.Type)}
	}
}

// moduleName converts an entrypoint file path to a Python module path:
// "src/app.py" becomes "src.app".
func moduleName(entrypoint string) string {
	mod := strings.TrimSuffix(entrypoint, ".py")
	return strings.ReplaceAll(strings.Trim(mod, "/"), "/", ".")
}

// Render produces the unit file text for an app. Deterministic: same
// record, same bytes.
func (g *Generator) Render(app types.App) (string, error) {
	command, err := Command(app)
	if err != nil {
		return "", err
	}

	desc := app.Name
	if desc == "" {
		desc = app.Slug
	}

	var sb strings.Builder
	err = g.tmpl.Execute(&sb, struct {
		Description string
		WorkDir     string
		Port        int
		Virtualenv  string
		Command     string
		User        string
		Group       string
	}{
		Description: desc + " (managed by forgeboard)",
		WorkDir:     app.WorkDir,
		Port:        app.Port,
		Virtualenv:  app.Virtualenv,
		Command:     command,
		User:        g.user,
		Group:       g.grp,
	})
	if err != nil {
		return "", &types.ConfigRenderError{Artifact: "unit", Slug: app.Slug, Detail: err.Error(), Err: err}
	}
	return sb.String(), nil
}

// Write overwrites the unit file for slug atomically. Idempotent.
func (g *Generator) Write(slug, text string) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	path := g.Path(slug)
	tmp, err := os.CreateTemp(g.dir, "."+paths.UnitName(slug)+"-*")
	if err != nil {
		return fmt.Errorf("stage unit write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write unit: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close unit temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod unit temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("activate unit write: %w", err)
	}

	g.log.Debug("unit written", zap.String("slug", slug), zap.String("path", path))
	return nil
}

// Remove deletes the unit file for slug. No-op if absent.
func (g *Generator) Remove(slug string) error {
	err := os.Remove(g.Path(slug))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit: %w", err)
	}
	return nil
}

// Sweep deletes unit files whose slug is not in keep. Used by reconcile to
// clear artifacts orphaned by out-of-band registry edits.
func (g *Generator) Sweep(keep map[string]bool) error {
	matches, err := doublestar.FilepathGlob(filepath.Join(g.dir, paths.UnitGlob))
	if err != nil {
		return fmt.Errorf("glob units: %w", err)
	}
	for _, match := range matches {
		slug := paths.SlugFromUnit(match)
		if slug == "" || keep[slug] {
			continue
		}
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sweep unit %s: %w", match, err)
		}
		g.log.Info("swept orphaned unit", zap.String("slug", slug))
	}
	return nil
}

// Exists reports whether a unit file exists for slug.
func (g *Generator) Exists(slug string) bool {
	_, err := os.Stat(g.Path(slug))
	return err == nil
}
