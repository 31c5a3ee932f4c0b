// Package paths fixes the on-disk layout shared by the registry, the
// generators, and the reloader. Artifact names are a deterministic function
// of the slug so every component derives the same path independently.
package paths

import (
	"path/filepath"
	"strings"
)

// Artifact name prefix. Everything ForgeBoard writes into shared system
// directories carries it, so sweeps can glob for our files and nothing else.
const Prefix = "forgeboard-"

// Globs matching ForgeBoard-owned artifacts, for doublestar sweeps.
const (
	UnitGlob  = Prefix + "*.service"
	RouteGlob = Prefix + "*.conf"
)

// UnitName returns the systemd unit name for a slug.
func UnitName(slug string) string {
	return Prefix + slug + ".service"
}

// RouteName returns the nginx fragment file name for a slug.
func RouteName(slug string) string {
	return Prefix + slug + ".conf"
}

// SlugFromUnit inverts UnitName. Returns "" if name is not ours.
func SlugFromUnit(name string) string {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, Prefix) || !strings.HasSuffix(base, ".service") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, Prefix), ".service")
}

// SlugFromRoute inverts RouteName. Returns "" if name is not ours.
func SlugFromRoute(name string) string {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, Prefix) || !strings.HasSuffix(base, ".conf") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, Prefix), ".conf")
}

// Layout is the directory layout the engine operates on. Tests point it at
// temp dirs; production values come from config.
type Layout struct {
	// RegistryFile is the declarative apps.yml, the source of truth.
	RegistryFile string

	// SystemdDir receives generated unit files.
	SystemdDir string

	// FragmentsDir is the route fragment store owned by the route
	// generator. It is outside every nginx include path: nothing here is
	// live until the reloader validates and applies it.
	FragmentsDir string

	// StagingDir is where the reloader assembles and validates a candidate
	// route set before the swap. Must live on the same filesystem as
	// ActiveDir: activation is a rename, and rename does not cross mounts.
	StagingDir string

	// ActiveDir is the only directory nginx includes. Written exclusively
	// by the reloader's apply step.
	ActiveDir string

	// SitesAvailable and SitesEnabled hold the single entry file that
	// wires ActiveDir into the host nginx.
	SitesAvailable string
	SitesEnabled   string
}

// Default returns the production layout.
func Default() Layout {
	return Layout{
		RegistryFile:   "/etc/forgeboard/apps.yml",
		SystemdDir:     "/etc/systemd/system",
		FragmentsDir:   "/var/lib/forgeboard/routes",
		StagingDir:     "/etc/nginx/.forgeboard-staging",
		ActiveDir:      "/etc/nginx/forgeboard",
		SitesAvailable: "/etc/nginx/sites-available",
		SitesEnabled:   "/etc/nginx/sites-enabled",
	}
}

// UnitPath returns the unit file path for a slug.
func (l Layout) UnitPath(slug string) string {
	return filepath.Join(l.SystemdDir, UnitName(slug))
}

// Subdirectories of the fragment, staging, and active route dirs. Server
// blocks and location blocks are included at different nginx context
// levels, so they are kept apart.
const (
	ServersSubdir   = "servers.d"
	LocationsSubdir = "locations.d"
)

// EntryFileName is the single nginx site wiring ActiveDir into the host.
const EntryFileName = Prefix + "apps.conf"
