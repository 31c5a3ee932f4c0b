package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

// Field limits
const (
	MaxSlugLength        = 63
	MaxNameLength        = 256
	MaxDescriptionLength = 2048
	MinPort              = 1024
	MaxPort              = 65535
)

// SlugPattern is the identifier grammar for slugs: safe in filenames, unit
// names, and nginx server/location names. Must start with an alphanumeric.
var SlugPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// DomainPattern is a conservative hostname check for the routing domain.
var DomainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// ValidateSlug checks the slug grammar.
func ValidateSlug(slug string) error {
	if slug == "" {
		return &types.ValidationError{Field: "slug", Reason: "required"}
	}
	if len(slug) > MaxSlugLength {
		return &types.ValidationError{Field: "slug", Reason: fmt.Sprintf("must not exceed %d characters", MaxSlugLength)}
	}
	if !SlugPattern.MatchString(slug) {
		return &types.ValidationError{Field: "slug", Reason: "only letters, digits, hyphens, and underscores allowed, starting with a letter or digit"}
	}
	return nil
}

// ValidatePort checks the allowed unprivileged port range.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return &types.ValidationError{Field: "port", Reason: fmt.Sprintf("must be between %d and %d", MinPort, MaxPort)}
	}
	return nil
}

// ValidateType checks membership in the closed type enum.
func ValidateType(t types.AppType) error {
	if !types.KnownTypes[t] {
		return &types.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown app type %q", t)}
	}
	return nil
}

// ValidateName checks the display name.
func ValidateName(name string) error {
	if name == "" {
		return &types.ValidationError{Field: "name", Reason: "required"}
	}
	if len(name) > MaxNameLength {
		return &types.ValidationError{Field: "name", Reason: fmt.Sprintf("must not exceed %d characters", MaxNameLength)}
	}
	if strings.Contains(name, "\x00") {
		return &types.ValidationError{Field: "name", Reason: "contains invalid characters"}
	}
	return nil
}

// ValidateDescription checks the optional description.
func ValidateDescription(desc string) error {
	if len(desc) > MaxDescriptionLength {
		return &types.ValidationError{Field: "description", Reason: fmt.Sprintf("must not exceed %d characters", MaxDescriptionLength)}
	}
	return nil
}

// ValidateDomain checks the optional routing domain.
func ValidateDomain(domain string) error {
	if domain == "" {
		return nil
	}
	if !DomainPattern.MatchString(domain) {
		return &types.ValidationError{Field: "domain", Reason: "not a valid hostname"}
	}
	return nil
}

// ValidatePath checks the optional routing path prefix.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return &types.ValidationError{Field: "path", Reason: "must start with /"}
	}
	if strings.ContainsAny(path, " \t\n\"{};") {
		return &types.ValidationError{Field: "path", Reason: "contains characters not allowed in a location prefix"}
	}
	return nil
}

// ValidateApp checks every static field of a record. Uniqueness of slug and
// port is the registry store's concern, not this function's.
func ValidateApp(app types.App) error {
	if err := ValidateSlug(app.Slug); err != nil {
		return err
	}
	if err := ValidateName(app.Name); err != nil {
		return err
	}
	if err := ValidateDescription(app.Description); err != nil {
		return err
	}
	if err := ValidateType(app.Type); err != nil {
		return err
	}
	if err := ValidatePort(app.Port); err != nil {
		return err
	}
	if err := ValidateDomain(app.Domain); err != nil {
		return err
	}
	if err := ValidatePath(app.Path); err != nil {
		return err
	}
	if app.WorkDir == "" {
		return &types.ValidationError{Field: "working_directory", Reason: "required"}
	}
	if app.Entrypoint == "" {
		return &types.ValidationError{Field: "entry_point", Reason: "required"}
	}
	return nil
}
