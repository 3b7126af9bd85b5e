package shrinker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameList_Match(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"com.example.**", "com.example.app.Main", true},
		{"com.example.*", "com.example.Main", true},
		{"com.example.*", "com.example.app.Main", false},
		{"com.example.Ma?n", "com.example.Main", true},
		{"com.example.Ma?n", "com.example.Maain", false},
		{"*", "Main", true},
		{"*", "com.example.Main", true},
		{"com.*", "com.example.Main", false},
		{"**", "com.example.Main", true},
		{"com.example.R$*", "com.example.R$drawable", true},
		{"!com.example.internal.**,com.example.**", "com.example.internal.Secret", false},
		{"!com.example.internal.**,com.example.**", "com.example.Public", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compileNameList(tt.pattern).match(tt.name), "%s ~ %s", tt.pattern, tt.name)
	}
}

func TestMatchWildcard(t *testing.T) {
	assert.True(t, matchWildcard("layout/kept_*", "layout/kept_by_rule"))
	assert.False(t, matchWildcard("layout/kept_*", "drawable/kept_icon"))
	assert.True(t, matchWildcard("drawable/splash", "drawable/splash"))
}

func TestResourceKey(t *testing.T) {
	assert.Equal(t, "drawable/launch_background", resourceKey("drawable-hdpi/launch_background.9.png"))
	assert.Equal(t, "mipmap/ic_launcher", resourceKey("mipmap-xxxhdpi/ic_launcher.png"))
	assert.Equal(t, "values/", resourceKey("values-night/styles.xml"))
}

func TestParseKeep(t *testing.T) {
	r, msg := parseKeep("keep", "allowshrinking", []string{"@androidx.annotation.Keep", "public", "class", "com.x.*", "extends", "com.x.Base"})
	assert.Empty(t, msg)
	assert.True(t, r.allowShrinking)
	assert.False(t, r.root())
	assert.Equal(t, "class", r.kind)
	assert.Equal(t, []string{"public"}, r.access)
	assert.NotNil(t, r.annotation)
	assert.True(t, r.extends.match("com.x.Base"))

	_, msg = parseKeep("keep", "", []string{"class", "com.x.A", "with", "com.x.B"})
	assert.Contains(t, msg, `"with"`)
}
