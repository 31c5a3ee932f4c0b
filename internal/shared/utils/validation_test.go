package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

func TestValidateSlug(t *testing.T) {
	valid := []string{"blog", "my-app", "app_2", "A1", "x"}
	for _, slug := range valid {
		assert.NoError(t, ValidateSlug(slug), slug)
	}

	invalid := []string{"", "-leading", "_leading", "has space", "dots.bad", "a/b",
		strings.Repeat("x", MaxSlugLength+1)}
	for _, slug := range invalid {
		assert.Error(t, ValidateSlug(slug), slug)
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(1024))
	assert.NoError(t, ValidatePort(9001))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(1023))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(65536))
}

func TestValidateType(t *testing.T) {
	for _, typ := range []types.AppType{types.TypeFlask, types.TypeFastAPI, types.TypeDjango, types.TypeGeneric} {
		assert.NoError(t, ValidateType(typ))
	}
	assert.Error(t, ValidateType(types.AppType("rails")))
	assert.Error(t, ValidateType(types.AppType("")))
}

func TestValidateDomain(t *testing.T) {
	assert.NoError(t, ValidateDomain(""))
	assert.NoError(t, ValidateDomain("example.com"))
	assert.NoError(t, ValidateDomain("blog.example.com"))
	assert.Error(t, ValidateDomain("-bad.example.com"))
	assert.Error(t, ValidateDomain("bad host"))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath(""))
	assert.NoError(t, ValidatePath("/blog"))
	assert.Error(t, ValidatePath("blog"))
	assert.Error(t, ValidatePath("/has space"))
	assert.Error(t, ValidatePath("/brace{"))
	assert.Error(t, ValidatePath("/semi;colon"))
}

func TestValidateApp(t *testing.T) {
	app := types.App{
		Slug:       "blog",
		Name:       "Blog",
		Type:       types.TypeFlask,
		Port:       9001,
		WorkDir:    "/srv/blog",
		Entrypoint: "app.py",
	}
	assert.NoError(t, ValidateApp(app))

	missingWorkDir := app
	missingWorkDir.WorkDir = ""
	assert.Error(t, ValidateApp(missingWorkDir))

	missingEntrypoint := app
	missingEntrypoint.Entrypoint = ""
	assert.Error(t, ValidateApp(missingEntrypoint))
}
