package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactNamesRoundTrip(t *testing.T) {
	assert.Equal(t, "forgeboard-blog.service", UnitName("blog"))
	assert.Equal(t, "forgeboard-blog.conf", RouteName("blog"))

	assert.Equal(t, "blog", SlugFromUnit("/etc/systemd/system/forgeboard-blog.service"))
	assert.Equal(t, "blog", SlugFromRoute("/var/lib/forgeboard/routes/locations.d/forgeboard-blog.conf"))
}

func TestSlugFromForeignNames(t *testing.T) {
	assert.Empty(t, SlugFromUnit("nginx.service"))
	assert.Empty(t, SlugFromUnit("forgeboard-blog.conf"))
	assert.Empty(t, SlugFromRoute("default.conf"))
	assert.Empty(t, SlugFromRoute("forgeboard-blog.service"))
}
