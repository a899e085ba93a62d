package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		referrer  string
		want      string
	}{
		{"alias rewritten", "agentos:std/main", "", "ext:std/main"},
		{"internal kept", "ext:virtual/greet", "file:///app/main.ts", "ext:virtual/greet"},
		{"absolute file", "file:///srv/app/mod.ts", "", "file:///srv/app/mod.ts"},
		{"absolute https", "https://cdn.example.com/lib.js", "", "https://cdn.example.com/lib.js"},
		{"relative to file", "./dep.ts", "file:///srv/app/main.ts", "file:///srv/app/dep.ts"},
		{"parent of file", "../lib/util.js", "file:///srv/app/main.ts", "file:///srv/lib/util.js"},
		{"root of https", "/x.js", "https://cdn.example.com/a/b.js", "https://cdn.example.com/x.js"},
		{"relative to https", "./c.js", "https://cdn.example.com/a/b.js", "https://cdn.example.com/a/c.js"},
		{"other scheme passes resolution", "http://example.com/a.js", "", "http://example.com/a.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.specifier, tt.referrer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		referrer  string
		sentinel  error
	}{
		{"empty", "  ", "file:///a.ts", ErrEmptySpecifier},
		{"empty internal", "ext:", "", ErrEmptySpecifier},
		{"empty alias virtual", "agentos:virtual/", "", ErrEmptySpecifier},
		{"bare", "lodash", "file:///a.ts", ErrBareSpecifier},
		{"relative from internal", "./x.ts", "ext:virtual/greet", ErrRelativeFromInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.specifier, tt.referrer)
			require.Error(t, err)
			assert.True(t, IsKind(err, ResolutionError))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}

	t.Run("relative without referrer", func(t *testing.T) {
		_, err := Resolve("./x.ts", "")
		assert.True(t, IsKind(err, ResolutionError))
	})
}

func TestMediaTypeFromPath(t *testing.T) {
	cases := map[string]MediaType{
		"/a/b.js":     MediaJavaScript,
		"/a/b.mjs":    MediaJavaScript,
		"/a/b.cjs":    MediaJavaScript,
		"/a/b.jsx":    MediaJSX,
		"/a/b.ts":     MediaTypeScript,
		"/a/b.d.ts":   MediaTypeScript,
		"/a/b.MTS":    MediaTypeScript,
		"/a/b.tsx":    MediaTSX,
		"/a/b.json":   MediaJSON,
		"/a/b.yml":    MediaYAML,
		"/a/b.toml":   MediaTOML,
		"/a/b.png":    MediaUnknown,
		"/a/noext":    MediaUnknown,
		"/a/b.txt.ts": MediaTypeScript,
	}
	for p, want := range cases {
		assert.Equal(t, want, MediaTypeFromPath(p), p)
	}

	assert.Equal(t, KindScript, MediaTSX.Kind())
	assert.Equal(t, KindJSON, MediaYAML.Kind())
	assert.Equal(t, KindUnknown, MediaUnknown.Kind())
}
