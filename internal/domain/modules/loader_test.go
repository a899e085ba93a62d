package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, fetcher Fetcher) (*Loader, *VirtualRegistry) {
	t.Helper()
	reg := NewVirtualRegistry()
	return NewLoader(reg, fetcher, logging.NewNop()), reg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	spec, err := FileSpecifier(p)
	require.NoError(t, err)
	return spec
}

func TestVirtualRoundTrip(t *testing.T) {
	loader, reg := newTestLoader(t, nil)
	ctx := context.Background()
	code := "export default 42;"

	reg.Register("greet", code)
	spec, err := loader.Resolve("agentos:virtual/greet", "")
	require.NoError(t, err)

	src, err := loader.Load(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, code, src.Code)
	assert.Equal(t, OriginVirtual, src.Origin)
	assert.Equal(t, KindScript, src.Kind)

	reg.Unregister("greet")
	_, err = loader.Load(ctx, spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.True(t, IsKind(err, LoadError))
}

func TestLoadBuiltin(t *testing.T) {
	loader, _ := newTestLoader(t, nil)

	src, err := loader.LoadModule(context.Background(), "ext:std/main")
	require.NoError(t, err)
	assert.Equal(t, OriginBuiltin, src.Origin)
	assert.True(t, src.HasSourceMap)
	assert.Contains(t, src.Code, "require(\"agentos:std/events\")")

	_, ok := loader.GetSourceMap("ext:std/main")
	assert.True(t, ok)

	_, err = loader.Load(context.Background(), "ext:std/missing")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, BuiltinNames(), "std/jsx-runtime")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newTestLoader(t, nil)
	ctx := context.Background()

	t.Run("typescript", func(t *testing.T) {
		spec := writeFile(t, dir, "mod.ts", "export const n: number = 1;\n")
		src, err := loader.LoadModule(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, MediaTypeScript, src.Media)
		assert.NotContains(t, src.Code, ": number")
		assert.True(t, src.HasSourceMap)
	})

	t.Run("unknown extension", func(t *testing.T) {
		spec := writeFile(t, dir, "image.png", "not a module")
		_, err := loader.Load(ctx, spec)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownExtension)
		assert.True(t, IsKind(err, LoadError))
	})

	t.Run("missing file", func(t *testing.T) {
		spec, err := FileSpecifier(filepath.Join(dir, "absent.js"))
		require.NoError(t, err)
		_, err = loader.Load(ctx, spec)
		assert.True(t, IsKind(err, LoadError))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("yaml data", func(t *testing.T) {
		spec := writeFile(t, dir, "conf.yaml", "name: demo\ncount: 3\n")
		src, err := loader.LoadModule(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, KindJSON, src.Kind)
		assert.JSONEq(t, `{"name":"demo","count":3}`, src.Code)
	})

	t.Run("toml data", func(t *testing.T) {
		spec := writeFile(t, dir, "conf.toml", "name = \"demo\"\n[limits]\nmax = 2\n")
		src, err := loader.LoadModule(ctx, spec)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"demo","limits":{"max":2}}`, src.Code)
	})

	t.Run("invalid json is a transpile error", func(t *testing.T) {
		spec := writeFile(t, dir, "bad.json", "{nope")
		_, err := loader.LoadModule(ctx, spec)
		assert.True(t, IsKind(err, TranspileError))
	})

	t.Run("syntax error is a transpile error", func(t *testing.T) {
		spec := writeFile(t, dir, "broken.ts", "export const = ;")
		src, err := loader.Load(ctx, spec)
		require.NoError(t, err)
		_, err = loader.Prepare(src)
		assert.True(t, IsKind(err, TranspileError))
		_, ok := loader.GetSourceMap(spec)
		assert.False(t, ok)
	})
}

func TestLoadRemote(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lib.js":
			w.Write([]byte("export const v = 7;"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(FetcherConfig{HTTPClient: srv.Client()})
	loader, _ := newTestLoader(t, fetcher)
	ctx := context.Background()

	src, err := loader.Load(ctx, srv.URL+"/lib.js")
	require.NoError(t, err)
	assert.Equal(t, OriginRemote, src.Origin)
	assert.Equal(t, MediaJavaScript, src.Media)
	assert.Equal(t, "export const v = 7;", src.Code)

	_, err = loader.Load(ctx, srv.URL+"/missing.js")
	require.Error(t, err)
	assert.True(t, IsKind(err, LoadError))
	assert.ErrorIs(t, err, ErrRemoteStatus)
}

func TestLoadUnsupportedScheme(t *testing.T) {
	loader, _ := newTestLoader(t, nil)
	for _, spec := range []string{"http://example.com/a.js", "data:text/javascript,1", "ftp://host/x.js"} {
		_, err := loader.Load(context.Background(), spec)
		require.Error(t, err, spec)
		assert.ErrorIs(t, err, ErrUnsupportedScheme, spec)
		assert.True(t, IsKind(err, LoadError), spec)
	}
}

func TestLoaderMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	loader, reg := newTestLoader(t, nil)
	loader.WithMetrics(metrics)
	reg.Register("a", "export {}")

	_, err := loader.Load(context.Background(), "ext:virtual/a")
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), "ext:virtual/b")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModuleLoads.WithLabelValues("virtual", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModuleLoads.WithLabelValues("virtual", "error")))
}

func TestSourceMapLookup(t *testing.T) {
	loader, reg := newTestLoader(t, nil)
	reg.Register("trace", "const label: string = \"x\";\n\n\nthrow new Error(label);\n")

	src, err := loader.LoadModule(context.Background(), "ext:virtual/trace")
	require.NoError(t, err)

	lines := strings.Split(src.Code, "\n")
	genLine, genCol := 0, 0
	for i, l := range lines {
		if idx := strings.Index(l, "throw"); idx >= 0 {
			genLine, genCol = i+1, idx+1
			break
		}
	}
	require.NotZero(t, genLine)

	pos, ok := loader.SourceMaps().Lookup("ext:virtual/trace", genLine, genCol)
	require.True(t, ok)
	assert.Equal(t, "ext:virtual/trace", pos.Source)
	assert.Equal(t, 4, pos.Line)
	assert.Equal(t, 1, pos.Column)

	_, ok = loader.SourceMaps().Lookup("ext:virtual/none", 1, 1)
	assert.False(t, ok)
}
