package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/forgeboard/internal/app"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/registry"
	"github.com/GriffinCanCode/forgeboard/internal/route"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
	"github.com/GriffinCanCode/forgeboard/internal/unit"
)

type noopProc struct{}

func (noopProc) Start(ctx context.Context, slug string) error   { return nil }
func (noopProc) Stop(ctx context.Context, slug string) error    { return nil }
func (noopProc) Restart(ctx context.Context, slug string) error { return nil }
func (noopProc) Enable(ctx context.Context, slug string) error  { return nil }
func (noopProc) Disable(ctx context.Context, slug string) error { return nil }
func (noopProc) DaemonReload(ctx context.Context) error         { return nil }
func (noopProc) Status(ctx context.Context, slug string) types.StatusDetail {
	return types.StatusDetail{Status: types.StatusInactive}
}
func (noopProc) Logs(ctx context.Context, slug string, lines int) ([]string, error) {
	return []string{"a log line"}, nil
}

type noopProxy struct{}

func (noopProxy) Sync(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	log := logging.NewNop()

	store := registry.New(filepath.Join(root, "apps.yml"), log)
	units := unit.New(filepath.Join(root, "systemd"), log)
	routes := route.New(filepath.Join(root, "routes"), "_", 80, log)
	engine := app.New(store, units, routes, noopProc{}, noopProxy{},
		app.PortRange{Start: 9001, End: 9999}, log)

	h := NewHandlers(engine, nil, log)
	router := gin.New()
	router.GET("/api/apps", h.ListApps)
	router.POST("/api/apps", h.CreateApp)
	router.GET("/api/apps/:slug", h.GetApp)
	router.PUT("/api/apps/:slug", h.UpdateApp)
	router.DELETE("/api/apps/:slug", h.DeleteApp)
	router.POST("/api/apps/:slug/start", h.StartApp)
	router.GET("/api/apps/:slug/status", h.GetStatus)
	router.GET("/api/apps/:slug/logs", h.GetLogs)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"slug":              "blog",
		"name":              "Blog",
		"type":              "flask",
		"working_directory": "/srv/blog",
		"entry_point":       "app.py",
	}
}

func TestCreateAppEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res types.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, types.OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.App)
	assert.Equal(t, "blog", res.App.Slug)
	assert.NotZero(t, res.App.Port)
}

func TestCreateAppEndpointValidation(t *testing.T) {
	router := newTestRouter(t)

	body := validCreateBody()
	body["slug"] = "-bad-"
	w := doJSON(t, router, http.MethodPost, "/api/apps", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAppEndpointDuplicate(t *testing.T) {
	router := newTestRouter(t)

	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)
	w := doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAppEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodGet, "/api/apps/blog", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/apps/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAppsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodGet, "/api/apps", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Apps []app.AppStatus `json:"apps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Apps, 1)
	assert.Equal(t, types.StatusInactive, body.Apps[0].Runtime.Status)
}

func TestUpdateAppEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodPut, "/api/apps/blog", map[string]interface{}{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	var res types.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Renamed", res.App.Name)
}

func TestDeleteAppEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodDelete, "/api/apps/blog", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/apps/blog", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodPost, "/api/apps/blog/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/apps/ghost/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/apps", validCreateBody()).Code)

	w := doJSON(t, router, http.MethodGet, "/api/apps/blog/logs?lines=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Lines)
}

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &types.ValidationError{Field: "slug", Reason: "bad"}, http.StatusBadRequest},
		{"not found", &types.NotFoundError{Slug: "x"}, http.StatusNotFound},
		{"render", &types.ConfigRenderError{Artifact: "route"}, http.StatusUnprocessableEntity},
		{"concurrency", &types.ConcurrencyError{Resource: "apps.yml"}, http.StatusConflict},
		{"tool failure", &types.ExternalToolError{Tool: "systemctl", Kind: types.ToolFailed}, http.StatusBadGateway},
		{"tool timeout", &types.ExternalToolError{Tool: "nginx", Kind: types.ToolTimeout}, http.StatusGatewayTimeout},
		{"parse", &registry.ParseError{Path: "apps.yml"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
