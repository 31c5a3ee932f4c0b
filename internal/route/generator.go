// Package route renders and manages nginx route fragments derived from app
// records. Fragments live in a store outside every nginx include path;
// nothing here is live until the proxy reloader validates and applies a
// staged copy.
package route

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

// Kind discriminates the two fragment shapes. Server fragments are included
// at nginx http level, location fragments inside the shared-host server.
type Kind string

const (
	KindServer   Kind = "server"
	KindLocation Kind = "location"
)

// Fragment is one rendered route config.
type Fragment struct {
	Slug string
	Kind Kind
	Text string
}

const serverTemplate = `server {
    listen {{.ListenPort}};
    server_name {{.Domain}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`

// The exact-match redirect makes /app and /app/ behave identically.
// A literal return URL does not carry request args, hence $is_args$args.
const locationTemplate = `location = {{.Path}} {
    return 301 {{.Path}}/$is_args$args;
}

location {{.Path}}/ {
    proxy_pass http://127.0.0.1:{{.Port}}/;
    proxy_set_header Host $host;
    proxy_set_header X-Real-IP $remote_addr;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header X-Forwarded-Proto $scheme;
}
`

// Generator renders route fragments into the fragment store.
type Generator struct {
	dir        string
	sharedHost string
	listenPort int
	serverTmpl *template.Template
	locTmpl    *template.Template
	log        *logging.Logger
}

// New creates a generator over the fragment store dir. sharedHost is the
// host path-prefix apps are mounted under; a record whose domain is a
// distinct fully-qualified host gets its own server block instead.
func New(dir, sharedHost string, listenPort int, log *logging.Logger) *Generator {
	return &Generator{
		dir:        dir,
		sharedHost: sharedHost,
		listenPort: listenPort,
		serverTmpl: template.Must(template.New("server").Parse(serverTemplate)),
		locTmpl:    template.Must(template.New("location").Parse(locationTemplate)),
		log:        log.Named("route"),
	}
}

// KindFor applies the routing decision rule for an app record.
func (g *Generator) KindFor(app types.App) Kind {
	if app.Domain != "" && strings.Contains(app.Domain, ".") && app.Domain != g.sharedHost {
		return KindServer
	}
	return KindLocation
}

// Render produces the route fragment for an app. Deterministic.
func (g *Generator) Render(app types.App) (Fragment, error) {
	kind := g.KindFor(app)

	var tmpl *template.Template
	var data interface{}
	switch kind {
	case KindServer:
		tmpl = g.serverTmpl
		data = struct {
			ListenPort int
			Domain     string
			Port       int
		}{g.listenPort, app.Domain, app.Port}
	case KindLocation:
		prefix := app.Path
		if prefix == "" {
			prefix = "/" + app.Slug
		}
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			return Fragment{}, &types.ConfigRenderError{Artifact: "route", Slug: app.Slug,
				Detail: "path-prefix route cannot mount at /"}
		}
		tmpl = g.locTmpl
		data = struct {
			Path string
			Port int
		}{prefix, app.Port}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return Fragment{}, &types.ConfigRenderError{Artifact: "route", Slug: app.Slug, Detail: err.Error(), Err: err}
	}
	return Fragment{Slug: app.Slug, Kind: kind, Text: sb.String()}, nil
}

// RenderAll renders fragments for every record.
func (g *Generator) RenderAll(apps []types.App) ([]Fragment, error) {
	frags := make([]Fragment, 0, len(apps))
	for _, app := range apps {
		frag, err := g.Render(app)
		if err != nil {
			return nil, err
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

// Path returns the fragment path for a slug and kind.
func (g *Generator) Path(slug string, kind Kind) string {
	sub := paths.LocationsSubdir
	if kind == KindServer {
		sub = paths.ServersSubdir
	}
	return filepath.Join(g.dir, sub, paths.RouteName(slug))
}

// Write overwrites the fragment for frag.Slug atomically and removes any
// stale fragment of the other kind (an update can flip a route between
// name-based and path-based).
func (g *Generator) Write(frag Fragment) error {
	path := g.Path(frag.Slug, frag.Kind)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create route dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+paths.RouteName(frag.Slug)+"-*")
	if err != nil {
		return fmt.Errorf("stage route write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(frag.Text); err != nil {
		tmp.Close()
		return fmt.Errorf("write route: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close route temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod route temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("activate route write: %w", err)
	}

	other := KindServer
	if frag.Kind == KindServer {
		other = KindLocation
	}
	if err := os.Remove(g.Path(frag.Slug, other)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale route: %w", err)
	}

	g.log.Debug("route fragment written",
		zap.String("slug", frag.Slug), zap.String("kind", string(frag.Kind)))
	return nil
}

// Remove deletes the fragments for slug, both kinds. No-op if absent.
func (g *Generator) Remove(slug string) error {
	for _, kind := range []Kind{KindServer, KindLocation} {
		if err := os.Remove(g.Path(slug, kind)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove route: %w", err)
		}
	}
	return nil
}

// Sweep deletes fragments whose slug is not in keep. Used by reconcile to
// clear artifacts orphaned by out-of-band registry edits.
func (g *Generator) Sweep(keep map[string]bool) error {
	pattern := filepath.Join(g.dir, "{"+paths.ServersSubdir+","+paths.LocationsSubdir+"}", paths.RouteGlob)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("glob route fragments: %w", err)
	}
	for _, match := range matches {
		slug := paths.SlugFromRoute(match)
		if slug == "" || keep[slug] {
			continue
		}
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sweep route %s: %w", match, err)
		}
		g.log.Info("swept orphaned route fragment", zap.String("slug", slug))
	}
	return nil
}

// Dir returns the fragment store root.
func (g *Generator) Dir() string { return g.dir }
