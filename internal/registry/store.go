// Package registry implements the declarative app store: an ordered YAML
// file that is the single source of static truth. Derived artifacts (units,
// route fragments) are always regenerable from it.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
	"github.com/GriffinCanCode/forgeboard/internal/shared/utils"
)

// ParseError means the registry file exists but is not valid YAML or does
// not match the expected shape.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse registry %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// maxSaveRetries bounds the optimistic-concurrency retry loop. Conflicts
// only arise from writers outside this process; in-process mutations are
// serialized by the store mutex.
const maxSaveRetries = 3

// Store owns the registry file. All mutations go through a single
// exclusive lock plus a load-version/persist-if-unchanged cycle, so the
// uniqueness invariants hold even with an external editor touching the
// file. Reads take no lock; the atomic rename on save guarantees a reader
// sees a pre- or post-mutation snapshot, never a partial write.
type Store struct {
	path string
	log  *logging.Logger
	mu   sync.Mutex
}

// registryFile is the on-disk shape: a top-level ordered app list.
type registryFile struct {
	Apps []types.App `yaml:"apps"`
}

// New creates a store over the given registry file path.
func New(path string, log *logging.Logger) *Store {
	return &Store{path: path, log: log.Named("registry")}
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

// Load reads all records in file order. A missing file is an empty
// registry, not an error.
func (s *Store) Load() ([]types.App, error) {
	apps, _, err := s.loadVersioned()
	return apps, err
}

// Get returns the record for slug.
func (s *Store) Get(slug string) (types.App, error) {
	apps, err := s.Load()
	if err != nil {
		return types.App{}, err
	}
	for _, app := range apps {
		if app.Slug == slug {
			return app, nil
		}
	}
	return types.App{}, &types.NotFoundError{Slug: slug}
}

// Add appends a new record after re-validating slug and port uniqueness.
func (s *Store) Add(app types.App) error {
	return s.mutate(func(apps []types.App) ([]types.App, error) {
		for _, existing := range apps {
			if existing.Slug == app.Slug {
				return nil, &types.ValidationError{Field: "slug", Reason: fmt.Sprintf("app %q already exists", app.Slug)}
			}
			if existing.Port == app.Port {
				return nil, &types.ValidationError{Field: "port", Reason: fmt.Sprintf("port %d already in use by %q", app.Port, existing.Slug)}
			}
		}
		if app.CreatedAt.IsZero() {
			app.CreatedAt = time.Now().UTC()
		}
		return append(apps, app), nil
	})
}

// Update applies a patch to the record for slug and returns the updated
// record. Port uniqueness is re-checked when the patch changes the port.
func (s *Store) Update(slug string, patch types.AppPatch) (types.App, error) {
	var updated types.App
	err := s.mutate(func(apps []types.App) ([]types.App, error) {
		idx := -1
		for i, app := range apps {
			if app.Slug == slug {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &types.NotFoundError{Slug: slug}
		}

		next := patch.Apply(apps[idx])
		if err := utils.ValidateApp(next); err != nil {
			return nil, err
		}
		for i, other := range apps {
			if i != idx && other.Port == next.Port {
				return nil, &types.ValidationError{Field: "port", Reason: fmt.Sprintf("port %d already in use by %q", next.Port, other.Slug)}
			}
		}

		apps[idx] = next
		updated = next
		return apps, nil
	})
	return updated, err
}

// Remove deletes the record for slug. Removing an unknown slug fails with
// NotFoundError and performs no write.
func (s *Store) Remove(slug string) error {
	return s.mutate(func(apps []types.App) ([]types.App, error) {
		for i, app := range apps {
			if app.Slug == slug {
				return append(apps[:i], apps[i+1:]...), nil
			}
		}
		return nil, &types.NotFoundError{Slug: slug}
	})
}

// NextFreePort returns the lowest unused port in [start, end].
func (s *Store) NextFreePort(start, end int) (int, error) {
	apps, err := s.Load()
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(apps))
	for _, app := range apps {
		used[app.Port] = true
	}
	for port := start; port <= end; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, &types.ValidationError{Field: "port", Reason: fmt.Sprintf("no free port in range %d-%d", start, end)}
}

// mutate runs fn over a fresh snapshot and persists the result, retrying
// when an external writer changed the file between load and save.
func (s *Store) mutate(fn func([]types.App) ([]types.App, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		apps, version, err := s.loadVersioned()
		if err != nil {
			return err
		}

		next, err := fn(apps)
		if err != nil {
			return err
		}

		ok, err := s.saveIfVersion(next, version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		s.log.Warn("registry changed underneath mutation, retrying",
			zap.Int("attempt", attempt+1))
	}
	return &types.ConcurrencyError{Resource: s.path}
}

// loadVersioned reads the file and returns records plus a content version
// token. An absent file yields an empty registry with an empty token.
func (s *Store) loadVersioned() ([]types.App, string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []types.App{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read registry %s: %w", s.path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", &ParseError{Path: s.path, Err: err}
	}
	if file.Apps == nil {
		file.Apps = []types.App{}
	}

	sum := sha256.Sum256(data)
	return file.Apps, hex.EncodeToString(sum[:]), nil
}

// saveIfVersion writes atomically (temp file then rename) only when the
// on-disk content still matches the version loaded before the mutation.
func (s *Store) saveIfVersion(apps []types.App, version string) (bool, error) {
	current, err := s.currentVersion()
	if err != nil {
		return false, err
	}
	if current != version {
		return false, nil
	}

	data, err := yaml.Marshal(registryFile{Apps: apps})
	if err != nil {
		return false, fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".apps-*.yml")
	if err != nil {
		return false, fmt.Errorf("stage registry write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close registry temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return false, fmt.Errorf("chmod registry temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return false, fmt.Errorf("activate registry write: %w", err)
	}
	return true, nil
}

func (s *Store) currentVersion() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read registry %s: %w", s.path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
