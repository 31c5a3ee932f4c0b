package types

import "time"

// AppType selects the unit template and default launch command for an app.
//
// The set is closed: adding a type means extending the dispatch tables in
// internal/unit and internal/route, which the compiler checks through
// KnownTypes.
type AppType string

const (
	TypeFlask   AppType = "flask"
	TypeFastAPI AppType = "fastapi"
	TypeDjango  AppType = "django"
	TypeGeneric AppType = "generic"
)

// KnownTypes is the closed set of valid app types.
var KnownTypes = map[AppType]bool{
	TypeFlask:   true,
	TypeFastAPI: true,
	TypeDjango:  true,
	TypeGeneric: true,
}

// Status is the runtime state of an app's supervised process. It is always
// derived from the supervisor on demand, never persisted.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusFailed   Status = "failed"
	StatusNotFound Status = "not-found"
	StatusUnknown  Status = "unknown"
)

// App is a registry record: the single source of static truth for one
// deployed app. Unit files and route fragments are derived from it and
// regenerable at any time.
//
// YAML tags match the on-disk registry grammar, which predates this
// implementation; optional fields absent from older files default to zero
// values.
type App struct {
	Slug        string    `yaml:"slug" json:"slug"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Type        AppType   `yaml:"type" json:"type"`
	Port        int       `yaml:"port" json:"port"`
	Domain      string    `yaml:"domain,omitempty" json:"domain,omitempty"`
	Path        string    `yaml:"path,omitempty" json:"path,omitempty"`
	WorkDir     string    `yaml:"working_directory" json:"working_directory"`
	Virtualenv  string    `yaml:"virtualenv,omitempty" json:"virtualenv,omitempty"`
	Entrypoint  string    `yaml:"entry_point" json:"entry_point"`
	CreatedAt   time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// AppPatch is a partial update to an App. Nil fields are left unchanged.
// Slug and CreatedAt are immutable and have no patch field.
type AppPatch struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *AppType `json:"type,omitempty"`
	Port        *int     `json:"port,omitempty"`
	Domain      *string  `json:"domain,omitempty"`
	Path        *string  `json:"path,omitempty"`
	WorkDir     *string  `json:"working_directory,omitempty"`
	Virtualenv  *string  `json:"virtualenv,omitempty"`
	Entrypoint  *string  `json:"entry_point,omitempty"`
}

// Apply returns a copy of app with the patch applied and UpdatedAt stamped.
func (p AppPatch) Apply(app App) App {
	out := app
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Port != nil {
		out.Port = *p.Port
	}
	if p.Domain != nil {
		out.Domain = *p.Domain
	}
	if p.Path != nil {
		out.Path = *p.Path
	}
	if p.WorkDir != nil {
		out.WorkDir = *p.WorkDir
	}
	if p.Virtualenv != nil {
		out.Virtualenv = *p.Virtualenv
	}
	if p.Entrypoint != nil {
		out.Entrypoint = *p.Entrypoint
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}

// Empty reports whether the patch changes nothing.
func (p AppPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Type == nil &&
		p.Port == nil && p.Domain == nil && p.Path == nil &&
		p.WorkDir == nil && p.Virtualenv == nil && p.Entrypoint == nil
}

// StatusDetail carries the full supervisor view of one app's process.
type StatusDetail struct {
	Status  Status `json:"status"`
	Enabled bool   `json:"enabled"`
	// Raw is the supervisor's own state string (e.g. "active", "failed",
	// "activating"), kept for diagnostics.
	Raw string `json:"raw,omitempty"`
}
