// Package app composes the registry store, the artifact generators, the
// process controller, and the proxy reloader into atomic-feeling lifecycle
// operations with compensating rollback on partial failure.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/registry"
	"github.com/GriffinCanCode/forgeboard/internal/route"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
	"github.com/GriffinCanCode/forgeboard/internal/shared/utils"
	"github.com/GriffinCanCode/forgeboard/internal/unit"
)

// ProcessController is the supervisor port. Satisfied by
// supervisor.Controller; tests plug in a fake.
type ProcessController interface {
	Start(ctx context.Context, slug string) error
	Stop(ctx context.Context, slug string) error
	Restart(ctx context.Context, slug string) error
	Enable(ctx context.Context, slug string) error
	Disable(ctx context.Context, slug string) error
	DaemonReload(ctx context.Context) error
	Status(ctx context.Context, slug string) types.StatusDetail
	Logs(ctx context.Context, slug string, lines int) ([]string, error)
}

// ProxySyncer is the reverse-proxy port. Satisfied by proxy.Reloader.
type ProxySyncer interface {
	Sync(ctx context.Context) error
}

// PortRange bounds automatic port allocation.
type PortRange struct {
	Start int
	End   int
}

// maxPortRetries bounds re-allocation when a concurrent create takes the
// auto-allocated port between allocation and the registry write.
const maxPortRetries = 3

// isPortConflict reports whether err is the registry's duplicate-port
// rejection, the only Add failure re-allocation can resolve.
func isPortConflict(err error) bool {
	var v *types.ValidationError
	return errors.As(err, &v) && v.Field == "port"
}

// Orchestrator linearizes lifecycle operations per slug and keeps the
// registry, the unit store, and the route store mutually consistent.
type Orchestrator struct {
	store   *registry.Store
	units   *unit.Generator
	routes  *route.Generator
	proc    ProcessController
	proxy   ProxySyncer
	ports   PortRange
	log     *logging.Logger
	metrics *monitoring.Metrics

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(store *registry.Store, units *unit.Generator, routes *route.Generator,
	proc ProcessController, proxy ProxySyncer, ports PortRange, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		units:  units,
		routes: routes,
		proc:   proc,
		proxy:  proxy,
		ports:  ports,
		log:    log.Named("orchestrator"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// WithMetrics attaches lifecycle metrics.
func (o *Orchestrator) WithMetrics(m *monitoring.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// lockSlug serializes operations targeting one slug. Operations on
// different slugs run concurrently; the registry store provides its own
// global write lock underneath.
func (o *Orchestrator) lockSlug(slug string) func() {
	o.lockMu.Lock()
	l, ok := o.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		o.locks[slug] = l
	}
	o.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateSpec is the input to CreateApp.
type CreateSpec struct {
	Slug        string        `json:"slug"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        types.AppType `json:"type"`
	// Port 0 requests automatic allocation from the configured range.
	Port       int    `json:"port,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Path       string `json:"path,omitempty"`
	WorkDir    string `json:"working_directory"`
	Virtualenv string `json:"virtualenv,omitempty"`
	Entrypoint string `json:"entry_point"`
	// StartNow starts the process immediately after creation.
	StartNow bool `json:"start_now,omitempty"`
}

// CreateApp validates the spec, persists the registry entry, generates
// both derived artifacts, enables the unit, and reloads the proxy. If any
// step after the registry write fails, applied steps are compensated in
// reverse and the first error surfaces; no partial app stays visible.
func (o *Orchestrator) CreateApp(ctx context.Context, spec CreateSpec) (*types.Result, error) {
	res := o.newResult()
	defer o.timeOp("create")()

	unlock := o.lockSlug(spec.Slug)
	defer unlock()

	app := types.App{
		Slug:        spec.Slug,
		Name:        spec.Name,
		Description: spec.Description,
		Type:        spec.Type,
		Port:        spec.Port,
		Domain:      spec.Domain,
		Path:        spec.Path,
		WorkDir:     spec.WorkDir,
		Virtualenv:  spec.Virtualenv,
		Entrypoint:  spec.Entrypoint,
		CreatedAt:   time.Now().UTC(),
	}

	// Allocation and Add are separate store operations, so a concurrent
	// create for another slug can win the same auto-allocated port. The
	// registry still rejects the duplicate; re-allocate and try again
	// instead of surfacing the lost race to the caller.
	var unitText string
	var frag route.Fragment
	for attempt := 0; ; attempt++ {
		if spec.Port == 0 {
			port, err := o.store.NextFreePort(o.ports.Start, o.ports.End)
			if err != nil {
				return o.fail(res, "create", err)
			}
			app.Port = port
		}
		if err := utils.ValidateApp(app); err != nil {
			return o.fail(res, "create", err)
		}

		// Render both artifacts up front so a template problem aborts
		// before anything durable changes.
		var err error
		unitText, err = o.units.Render(app)
		if err != nil {
			return o.fail(res, "create", err)
		}
		frag, err = o.routes.Render(app)
		if err != nil {
			return o.fail(res, "create", err)
		}

		err = o.store.Add(app)
		if err == nil {
			break
		}
		if spec.Port == 0 && attempt < maxPortRetries && isPortConflict(err) {
			continue
		}
		return o.fail(res, "create", err)
	}
	undo := []func(){func() {
		if err := o.store.Remove(app.Slug); err != nil && !types.IsNotFound(err) {
			o.log.Error("rollback: remove registry entry", zap.String("slug", app.Slug), zap.Error(err))
		}
	}}

	if err := o.units.Write(app.Slug, unitText); err != nil {
		return o.failAndUndo(res, "create", err, undo)
	}
	undo = append(undo, func() {
		if err := o.units.Remove(app.Slug); err != nil {
			o.log.Error("rollback: remove unit", zap.String("slug", app.Slug), zap.Error(err))
		}
	})

	if err := o.routes.Write(frag); err != nil {
		return o.failAndUndo(res, "create", err, undo)
	}
	undo = append(undo, func() {
		if err := o.routes.Remove(app.Slug); err != nil {
			o.log.Error("rollback: remove route", zap.String("slug", app.Slug), zap.Error(err))
		}
	})

	if err := o.proc.DaemonReload(ctx); err != nil {
		return o.failAndUndo(res, "create", err, undo)
	}
	if err := o.proc.Enable(ctx, app.Slug); err != nil {
		return o.failAndUndo(res, "create", err, undo)
	}
	undo = append(undo, func() {
		if err := o.proc.Disable(context.Background(), app.Slug); err != nil {
			o.log.Error("rollback: disable unit", zap.String("slug", app.Slug), zap.Error(err))
		}
	})

	// Proxy validation failure cannot touch the active config, so
	// compensation only needs to clear the derived artifacts.
	if err := o.proxy.Sync(ctx); err != nil {
		return o.failAndUndo(res, "create", err, undo)
	}

	o.updateRegistryGauge()
	res.App = &app

	if spec.StartNow {
		if err := o.proc.Start(ctx, app.Slug); err != nil {
			// Artifacts are consistent; only the runtime start is missing.
			res.Outcome = types.OutcomePartial
			res.Detail = "app created but not started: " + err.Error()
			o.log.Warn("create: immediate start failed", zap.String("slug", app.Slug), zap.Error(err))
			o.metrics.RecordOp("create", string(types.OutcomePartial), 0)
			return res, nil
		}
	}

	res.Outcome = types.OutcomeSuccess
	o.metrics.RecordOp("create", string(types.OutcomeSuccess), 0)
	o.log.Info("app created", zap.String("slug", app.Slug), zap.Int("port", app.Port))
	return res, nil
}

// UpdateApp applies a patch, re-renders only the artifacts affected by the
// changed fields, and reloads only the affected subsystems. A patch
// touching neither unit nor routing fields (e.g. description) triggers no
// external tool at all.
func (o *Orchestrator) UpdateApp(ctx context.Context, slug string, patch types.AppPatch) (*types.Result, error) {
	res := o.newResult()
	defer o.timeOp("update")()

	unlock := o.lockSlug(slug)
	defer unlock()

	prev, err := o.store.Get(slug)
	if err != nil {
		return o.fail(res, "update", err)
	}
	if patch.Empty() {
		res.Outcome = types.OutcomeSuccess
		res.App = &prev
		return res, nil
	}

	updated, err := o.store.Update(slug, patch)
	if err != nil {
		return o.fail(res, "update", err)
	}
	restoreRecord := func() {
		if _, err := o.store.Update(slug, recordPatch(prev)); err != nil {
			o.log.Error("rollback: restore registry entry", zap.String("slug", slug), zap.Error(err))
		}
	}

	unitChanged := prev.Name != updated.Name || prev.Type != updated.Type ||
		prev.Port != updated.Port || prev.WorkDir != updated.WorkDir ||
		prev.Virtualenv != updated.Virtualenv || prev.Entrypoint != updated.Entrypoint
	routeChanged := prev.Domain != updated.Domain || prev.Path != updated.Path ||
		prev.Port != updated.Port

	if unitChanged {
		text, err := o.units.Render(updated)
		if err != nil {
			restoreRecord()
			return o.failRolledBack(res, "update", err)
		}
		if err := o.units.Write(slug, text); err != nil {
			restoreRecord()
			return o.failRolledBack(res, "update", err)
		}
		if err := o.proc.DaemonReload(ctx); err != nil {
			o.restoreUnit(prev)
			restoreRecord()
			return o.failRolledBack(res, "update", err)
		}
	}

	if routeChanged {
		frag, err := o.routes.Render(updated)
		if err == nil {
			err = o.routes.Write(frag)
		}
		if err == nil {
			err = o.proxy.Sync(ctx)
		}
		if err != nil {
			o.restoreRoute(prev)
			if unitChanged {
				o.restoreUnit(prev)
				_ = o.proc.DaemonReload(context.Background())
			}
			restoreRecord()
			return o.failRolledBack(res, "update", err)
		}
	}

	res.Outcome = types.OutcomeSuccess
	res.App = &updated
	o.metrics.RecordOp("update", string(types.OutcomeSuccess), 0)
	o.log.Info("app updated", zap.String("slug", slug),
		zap.Bool("unit_changed", unitChanged), zap.Bool("route_changed", routeChanged))
	return res, nil
}

// DeleteApp removes an app in the order stop -> unroute -> unsupervise ->
// unregister, so the proxy never routes to a backend whose unit is gone.
// Deleting an unknown slug fails with NotFound and mutates nothing.
func (o *Orchestrator) DeleteApp(ctx context.Context, slug string) (*types.Result, error) {
	res := o.newResult()
	defer o.timeOp("delete")()

	unlock := o.lockSlug(slug)
	defer unlock()

	if _, err := o.store.Get(slug); err != nil {
		return o.fail(res, "delete", err)
	}

	if detail := o.proc.Status(ctx, slug); detail.Status == types.StatusActive {
		if err := o.proc.Stop(ctx, slug); err != nil {
			return o.fail(res, "delete", err)
		}
	}

	// Once removal starts there is no going back: a mid-way failure
	// surfaces as partial so the caller can retry the remaining steps.
	if err := o.routes.Remove(slug); err != nil {
		return o.partial(res, "delete", err)
	}
	if err := o.proxy.Sync(ctx); err != nil {
		return o.partial(res, "delete", err)
	}
	if err := o.proc.Disable(ctx, slug); err != nil {
		return o.partial(res, "delete", err)
	}
	if err := o.units.Remove(slug); err != nil {
		return o.partial(res, "delete", err)
	}
	if err := o.proc.DaemonReload(ctx); err != nil {
		return o.partial(res, "delete", err)
	}
	if err := o.store.Remove(slug); err != nil {
		return o.partial(res, "delete", err)
	}

	o.updateRegistryGauge()
	res.Outcome = types.OutcomeSuccess
	o.metrics.RecordOp("delete", string(types.OutcomeSuccess), 0)
	o.log.Info("app deleted", zap.String("slug", slug))
	return res, nil
}

// StartApp starts the app's process. NotFound if the slug is unregistered
// or has no unit.
func (o *Orchestrator) StartApp(ctx context.Context, slug string) (*types.Result, error) {
	return o.controlOp(ctx, "start", slug, o.proc.Start)
}

// StopApp stops the app's process.
func (o *Orchestrator) StopApp(ctx context.Context, slug string) (*types.Result, error) {
	return o.controlOp(ctx, "stop", slug, o.proc.Stop)
}

// RestartApp restarts the app's process.
func (o *Orchestrator) RestartApp(ctx context.Context, slug string) (*types.Result, error) {
	return o.controlOp(ctx, "restart", slug, o.proc.Restart)
}

func (o *Orchestrator) controlOp(ctx context.Context, op, slug string,
	verb func(context.Context, string) error) (*types.Result, error) {
	res := o.newResult()
	defer o.timeOp(op)()

	unlock := o.lockSlug(slug)
	defer unlock()

	app, err := o.store.Get(slug)
	if err != nil {
		return o.fail(res, op, err)
	}
	if err := verb(ctx, slug); err != nil {
		return o.fail(res, op, err)
	}

	res.Outcome = types.OutcomeSuccess
	res.App = &app
	o.metrics.RecordOp(op, string(types.OutcomeSuccess), 0)
	return res, nil
}

// GetStatus returns the derived runtime status for slug. Never cached.
func (o *Orchestrator) GetStatus(ctx context.Context, slug string) (types.StatusDetail, error) {
	if _, err := o.store.Get(slug); err != nil {
		return types.StatusDetail{}, err
	}
	return o.proc.Status(ctx, slug), nil
}

// GetLogs returns up to lines recent log records for slug.
func (o *Orchestrator) GetLogs(ctx context.Context, slug string, lines int) ([]string, error) {
	if _, err := o.store.Get(slug); err != nil {
		return nil, err
	}
	return o.proc.Logs(ctx, slug, lines)
}

// List returns all registered apps in registry order.
func (o *Orchestrator) List(ctx context.Context) ([]types.App, error) {
	apps, err := o.store.Load()
	if err == nil {
		o.metrics.SetRegistrySize(len(apps))
	}
	return apps, err
}

// AppStatus pairs a record with its derived runtime status.
type AppStatus struct {
	types.App
	Runtime types.StatusDetail `json:"runtime"`
}

// ListWithStatus returns all apps with their current runtime status.
func (o *Orchestrator) ListWithStatus(ctx context.Context) ([]AppStatus, error) {
	apps, err := o.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AppStatus, 0, len(apps))
	for _, app := range apps {
		out = append(out, AppStatus{App: app, Runtime: o.proc.Status(ctx, app.Slug)})
	}
	return out, nil
}

// ReloadProxy regenerates every route fragment from the registry, sweeps
// orphans, and runs the stage/validate/apply cycle.
func (o *Orchestrator) ReloadProxy(ctx context.Context) error {
	defer o.timeOp("reload-proxy")()

	apps, err := o.store.Load()
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(apps))
	for _, app := range apps {
		frag, err := o.routes.Render(app)
		if err != nil {
			return err
		}
		if err := o.routes.Write(frag); err != nil {
			return err
		}
		keep[app.Slug] = true
	}
	if err := o.routes.Sweep(keep); err != nil {
		return err
	}
	return o.proxy.Sync(ctx)
}

// Reconcile regenerates every derived artifact from the registry
// (regeneration wins over whatever is on disk), sweeps artifacts whose
// slug is no longer registered, and applies both subsystems.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	defer o.timeOp("reconcile")()

	apps, err := o.store.Load()
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(apps))
	for _, app := range apps {
		text, err := o.units.Render(app)
		if err != nil {
			return err
		}
		if err := o.units.Write(app.Slug, text); err != nil {
			return err
		}
		keep[app.Slug] = true
	}
	if err := o.units.Sweep(keep); err != nil {
		return err
	}
	if err := o.proc.DaemonReload(ctx); err != nil {
		return err
	}
	return o.ReloadProxy(ctx)
}

// restoreUnit best-effort regenerates the unit artifact from a previous
// record during rollback.
func (o *Orchestrator) restoreUnit(prev types.App) {
	text, err := o.units.Render(prev)
	if err == nil {
		err = o.units.Write(prev.Slug, text)
	}
	if err != nil {
		o.log.Error("rollback: restore unit", zap.String("slug", prev.Slug), zap.Error(err))
	}
}

// restoreRoute best-effort regenerates the route artifact from a previous
// record during rollback.
func (o *Orchestrator) restoreRoute(prev types.App) {
	frag, err := o.routes.Render(prev)
	if err == nil {
		err = o.routes.Write(frag)
	}
	if err != nil {
		o.log.Error("rollback: restore route", zap.String("slug", prev.Slug), zap.Error(err))
	}
}

func (o *Orchestrator) newResult() *types.Result {
	return &types.Result{OpID: uuid.New().String(), Outcome: types.OutcomeFailure}
}

func (o *Orchestrator) fail(res *types.Result, op string, err error) (*types.Result, error) {
	res.Outcome = types.OutcomeFailure
	o.metrics.RecordOp(op, string(types.OutcomeFailure), 0)
	return res, err
}

func (o *Orchestrator) failAndUndo(res *types.Result, op string, err error, undo []func()) (*types.Result, error) {
	o.log.Warn("compensating rollback", zap.String("op", op), zap.Error(err))
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	o.metrics.RecordRollback()
	o.updateRegistryGauge()
	return o.failRolledBack(res, op, err)
}

func (o *Orchestrator) failRolledBack(res *types.Result, op string, err error) (*types.Result, error) {
	res.Outcome = types.OutcomeFailure
	o.metrics.RecordOp(op, string(types.OutcomeFailure), 0)
	return res, err
}

func (o *Orchestrator) partial(res *types.Result, op string, err error) (*types.Result, error) {
	res.Outcome = types.OutcomePartial
	res.Detail = err.Error()
	o.metrics.RecordOp(op, string(types.OutcomePartial), 0)
	return res, err
}

func (o *Orchestrator) timeOp(op string) func() {
	start := time.Now()
	return func() {
		if o.metrics != nil {
			o.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}
}

func (o *Orchestrator) updateRegistryGauge() {
	if apps, err := o.store.Load(); err == nil {
		o.metrics.SetRegistrySize(len(apps))
	}
}

// recordPatch builds a patch restoring every mutable field of prev.
func recordPatch(prev types.App) types.AppPatch {
	return types.AppPatch{
		Name:        &prev.Name,
		Description: &prev.Description,
		Type:        &prev.Type,
		Port:        &prev.Port,
		Domain:      &prev.Domain,
		Path:        &prev.Path,
		WorkDir:     &prev.WorkDir,
		Virtualenv:  &prev.Virtualenv,
		Entrypoint:  &prev.Entrypoint,
	}
}
