package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
	"github.com/GriffinCanCode/forgeboard/internal/supervisor"
)

// Check is one preflight probe result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates preflight checks. OK is true only when every check
// passed.
type Report struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Doctor probes the host for everything the engine needs: writable
// artifact directories and runnable control binaries.
type Doctor struct {
	layout    paths.Layout
	runner    supervisor.Runner
	systemctl string
	nginx     string
	timeout   time.Duration
}

// NewDoctor creates a preflight prober.
func NewDoctor(layout paths.Layout, runner supervisor.Runner, systemctl, nginx string) *Doctor {
	if systemctl == "" {
		systemctl = "systemctl"
	}
	if nginx == "" {
		nginx = "nginx"
	}
	return &Doctor{layout: layout, runner: runner, systemctl: systemctl, nginx: nginx, timeout: 5 * time.Second}
}

// Run executes every probe. It never fails; problems land in the report.
func (d *Doctor) Run(ctx context.Context) Report {
	report := Report{OK: true}
	add := func(name string, ok bool, detail string) {
		if !ok {
			report.OK = false
		}
		report.Checks = append(report.Checks, Check{Name: name, OK: ok, Detail: detail})
	}

	dirs := []struct{ name, path string }{
		{"registry dir", filepath.Dir(d.layout.RegistryFile)},
		{"systemd dir", d.layout.SystemdDir},
		{"route fragments dir", d.layout.FragmentsDir},
		{"staging dir", d.layout.StagingDir},
		{"sites-available", d.layout.SitesAvailable},
		{"sites-enabled", d.layout.SitesEnabled},
	}
	for _, dir := range dirs {
		add(dir.name, writable(dir.path), dir.path)
	}

	add("staging filesystem", sameFilesystem(d.layout.StagingDir, d.layout.ActiveDir),
		fmt.Sprintf("%s and %s must share a filesystem", d.layout.StagingDir, d.layout.ActiveDir))

	for _, tool := range []struct{ name, bin, arg string }{
		{"systemctl", d.systemctl, "--version"},
		{"nginx", d.nginx, "-v"},
	} {
		probeCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, _, code, err := d.runner.Run(probeCtx, tool.bin, tool.arg)
		cancel()
		switch {
		case err != nil:
			add(tool.name, false, err.Error())
		case code != 0:
			add(tool.name, false, fmt.Sprintf("exit %d", code))
		default:
			add(tool.name, true, "")
		}
	}

	return report
}

// sameFilesystem reports whether the nearest existing ancestors of a and b
// are on one device. Activating a staged route set is a rename, which
// rename(2) refuses across mounts.
func sameFilesystem(a, b string) bool {
	da, ok := deviceOf(a)
	if !ok {
		return false
	}
	db, ok := deviceOf(b)
	if !ok {
		return false
	}
	return da == db
}

func deviceOf(path string) (uint64, bool) {
	for {
		if info, err := os.Stat(path); err == nil {
			st, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return 0, false
			}
			return uint64(st.Dev), true
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, false
		}
		path = parent
	}
}

// writable reports whether the directory exists and accepts writes. A
// probe file is the only reliable cross-platform answer.
func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe, err := os.CreateTemp(dir, ".forgeboard-probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}
