package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
)

type doctorRunner struct {
	fail map[string]error
}

func (r *doctorRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	if err := r.fail[name]; err != nil {
		return "", "", -1, err
	}
	return "version output", "", 0, nil
}

func doctorLayout(t *testing.T) paths.Layout {
	t.Helper()
	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	return paths.Layout{
		RegistryFile:   filepath.Join(root, "apps.yml"),
		SystemdDir:     root,
		FragmentsDir:   root,
		StagingDir:     staging,
		ActiveDir:      filepath.Join(root, "active"),
		SitesAvailable: root,
		SitesEnabled:   root,
	}
}

func TestDoctorAllHealthy(t *testing.T) {
	d := NewDoctor(doctorLayout(t), &doctorRunner{}, "systemctl", "nginx")

	report := d.Run(context.Background())
	assert.True(t, report.OK)
	for _, check := range report.Checks {
		assert.True(t, check.OK, check.Name)
	}
}

func TestDoctorMissingDirectory(t *testing.T) {
	layout := doctorLayout(t)
	layout.StagingDir = filepath.Join(layout.StagingDir, "does-not-exist")
	d := NewDoctor(layout, &doctorRunner{}, "systemctl", "nginx")

	report := d.Run(context.Background())
	assert.False(t, report.OK)

	found := false
	for _, check := range report.Checks {
		if check.Name == "staging dir" {
			found = true
			assert.False(t, check.OK)
		}
	}
	require.True(t, found)
}

func TestDoctorStagingFilesystemCheck(t *testing.T) {
	// Staging and active share a temp root here, so the rename-based
	// activation constraint holds. The check compares the nearest
	// existing ancestors, so the not-yet-created active dir passes too.
	d := NewDoctor(doctorLayout(t), &doctorRunner{}, "systemctl", "nginx")

	report := d.Run(context.Background())
	found := false
	for _, check := range report.Checks {
		if check.Name == "staging filesystem" {
			found = true
			assert.True(t, check.OK, check.Detail)
		}
	}
	require.True(t, found)
}

func TestDoctorMissingTool(t *testing.T) {
	runner := &doctorRunner{fail: map[string]error{"nginx": errors.New("executable not found")}}
	d := NewDoctor(doctorLayout(t), runner, "systemctl", "nginx")

	report := d.Run(context.Background())
	assert.False(t, report.OK)
	for _, check := range report.Checks {
		if check.Name == "nginx" {
			assert.False(t, check.OK)
			assert.Contains(t, check.Detail, "not found")
		}
	}
}
