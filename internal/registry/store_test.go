package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "apps.yml"), logging.NewNop())
}

func sampleApp(slug string, port int) types.App {
	return types.App{
		Slug:       slug,
		Name:       "Test " + slug,
		Type:       types.TypeFlask,
		Port:       port,
		WorkDir:    "/srv/" + slug,
		Virtualenv: "/srv/" + slug + "/venv",
		Entrypoint: "app.py",
	}
}

func TestLoadAbsentFile(t *testing.T) {
	s := newTestStore(t)

	apps, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Add(sampleApp("blog", 9001)))

	got, err := s.Get("blog")
	require.NoError(t, err)
	assert.Equal(t, "blog", got.Slug)
	assert.Equal(t, 9001, got.Port)
	assert.False(t, got.CreatedAt.IsZero(), "CreatedAt should be stamped")
}

func TestGetUnknownSlug(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("ghost")
	assert.True(t, types.IsNotFound(err))
}

func TestAddDuplicateSlug(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Add(sampleApp("blog", 9001)))
	err := s.Add(sampleApp("blog", 9002))
	assert.True(t, types.IsValidation(err))

	apps, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestAddDuplicatePort(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Add(sampleApp("blog", 9001)))
	err := s.Add(sampleApp("wiki", 9001))
	assert.True(t, types.IsValidation(err))
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("blog", 9001)))

	name := "Renamed"
	updated, err := s.Update("blog", types.AppPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.False(t, updated.UpdatedAt.IsZero())

	got, err := s.Get("blog")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestUpdatePortConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("blog", 9001)))
	require.NoError(t, s.Add(sampleApp("wiki", 9002)))

	port := 9001
	_, err := s.Update("wiki", types.AppPatch{Port: &port})
	assert.True(t, types.IsValidation(err))
}

func TestUpdateUnknownSlug(t *testing.T) {
	s := newTestStore(t)

	name := "x"
	_, err := s.Update("ghost", types.AppPatch{Name: &name})
	assert.True(t, types.IsNotFound(err))
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("blog", 9001)))

	require.NoError(t, s.Remove("blog"))
	_, err := s.Get("blog")
	assert.True(t, types.IsNotFound(err))

	// Removing again is NotFound, not a silent success.
	assert.True(t, types.IsNotFound(s.Remove("blog")))
}

func TestOrderPreserved(t *testing.T) {
	s := newTestStore(t)
	for i, slug := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Add(sampleApp(slug, 9001+i)))
	}

	apps, err := s.Load()
	require.NoError(t, err)
	require.Len(t, apps, 3)
	assert.Equal(t, "charlie", apps[0].Slug)
	assert.Equal(t, "alpha", apps[1].Slug)
	assert.Equal(t, "bravo", apps[2].Slug)
}

func TestParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yml")
	require.NoError(t, os.WriteFile(path, []byte("apps: [not: {valid"), 0o644))
	s := New(path, logging.NewNop())

	_, err := s.Load()
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestOlderSchemaDefaults(t *testing.T) {
	// A registry written by an earlier schema version without optional
	// fields must still parse.
	path := filepath.Join(t.TempDir(), "apps.yml")
	content := "apps:\n" +
		"  - slug: legacy\n" +
		"    name: Legacy App\n" +
		"    type: flask\n" +
		"    port: 9005\n" +
		"    working_directory: /srv/legacy\n" +
		"    entry_point: app.py\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	s := New(path, logging.NewNop())

	apps, err := s.Load()
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "legacy", apps[0].Slug)
	assert.Empty(t, apps[0].Domain)
	assert.True(t, apps[0].CreatedAt.IsZero())
}

func TestNextFreePort(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("a", 9001)))
	require.NoError(t, s.Add(sampleApp("b", 9002)))

	port, err := s.NextFreePort(9001, 9010)
	require.NoError(t, err)
	assert.Equal(t, 9003, port)
}

func TestNextFreePortExhausted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("a", 9001)))

	_, err := s.NextFreePort(9001, 9001)
	assert.True(t, types.IsValidation(err))
}

func TestConcurrentAddSameSlug(t *testing.T) {
	s := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Add(sampleApp("blog", 9100+i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, types.IsValidation(err))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent add may win")

	apps, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestExternalWriterConflictRetries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(sampleApp("a", 9001)))

	// Simulate an external writer by mutating the file through a second
	// store handle between operations on the first.
	other := New(s.Path(), logging.NewNop())
	require.NoError(t, other.Add(sampleApp("b", 9002)))

	require.NoError(t, s.Add(sampleApp("c", 9003)))

	apps, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, apps, 3)
}
