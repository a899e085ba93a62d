package modules

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// Origin is where a module's source came from
type Origin int

const (
	OriginVirtual Origin = iota
	OriginBuiltin
	OriginFile
	OriginRemote
)

// String returns the string representation of the origin
func (o Origin) String() string {
	switch o {
	case OriginVirtual:
		return "virtual"
	case OriginBuiltin:
		return "builtin"
	case OriginFile:
		return "file"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Source is the resolved content of one module specifier
type Source struct {
	Specifier    string
	Code         string
	Kind         ModuleKind
	Media        MediaType
	Origin       Origin
	HasSourceMap bool
	// Prepared is set once Code holds executable (or normalized data) text
	Prepared bool
}

// Loader resolves, loads and prepares modules for one execution context.
// Contexts share the virtual registry and fetcher but never a loader.
type Loader struct {
	virtual *VirtualRegistry
	fetcher Fetcher
	maps    *SourceMapStore
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewLoader creates a loader backed by the given registry and fetcher
func NewLoader(virtual *VirtualRegistry, fetcher Fetcher, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loader{
		virtual: virtual,
		fetcher: fetcher,
		maps:    NewSourceMapStore(),
		logger:  logger.Component("modules"),
	}
}

// WithMetrics adds metrics tracking to the loader
func (l *Loader) WithMetrics(metrics *monitoring.Metrics) *Loader {
	l.metrics = metrics
	return l
}

// Resolve normalizes specifier against referrer
func (l *Loader) Resolve(specifier, referrer string) (string, error) {
	return Resolve(specifier, referrer)
}

// Load returns the raw source of an already resolved specifier. Sources are
// looked up in priority order: virtual registry, built-in registry, local
// file, remote https.
func (l *Loader) Load(ctx context.Context, specifier string) (*Source, error) {
	src, err := l.load(ctx, specifier)
	origin := "unknown"
	if src != nil {
		origin = src.Origin.String()
	} else if o, ok := originOf(specifier); ok {
		origin = o.String()
	}
	l.metrics.ModuleLoaded(origin, err)

	if err != nil {
		l.logger.Debug("module load failed", zap.String("specifier", specifier), zap.Error(err))
		return nil, err
	}
	l.logger.Debug("module loaded",
		zap.String("specifier", specifier),
		zap.String("origin", src.Origin.String()),
		zap.String("kind", src.Kind.String()),
	)
	return src, nil
}

func (l *Loader) load(ctx context.Context, specifier string) (*Source, error) {
	if rest, ok := strings.CutPrefix(specifier, InternalScheme+":"); ok {
		if key, ok := strings.CutPrefix(rest, VirtualPrefix); ok {
			code, found := l.virtual.Get(key)
			if !found {
				return nil, newError(LoadError, specifier, fmt.Errorf("%w: virtual module %q", ErrModuleNotFound, key))
			}
			return &Source{Specifier: specifier, Code: code, Kind: KindScript, Media: MediaTypeScript, Origin: OriginVirtual}, nil
		}

		code, found := LookupBuiltin(rest)
		if !found {
			return nil, newError(LoadError, specifier, fmt.Errorf("%w: built-in module %q", ErrModuleNotFound, rest))
		}
		return &Source{Specifier: specifier, Code: code, Kind: KindScript, Media: MediaTypeScript, Origin: OriginBuiltin}, nil
	}

	u, err := url.Parse(specifier)
	if err != nil {
		return nil, newError(LoadError, specifier, err)
	}

	switch u.Scheme {
	case "file":
		media := MediaTypeFromPath(u.Path)
		if media.Kind() == KindUnknown {
			return nil, newError(LoadError, specifier, fmt.Errorf("%w %q", ErrUnknownExtension, filepath.Ext(u.Path)))
		}
		data, err := os.ReadFile(filepath.FromSlash(u.Path))
		if err != nil {
			return nil, newError(LoadError, specifier, err)
		}
		return &Source{Specifier: specifier, Code: string(data), Kind: media.Kind(), Media: media, Origin: OriginFile}, nil

	case "https":
		if l.fetcher == nil {
			return nil, newError(LoadError, specifier, fmt.Errorf("no fetcher configured"))
		}
		data, err := l.fetcher.Fetch(ctx, specifier)
		if err != nil {
			return nil, newError(LoadError, specifier, err)
		}
		return &Source{Specifier: specifier, Code: string(data), Kind: KindScript, Media: MediaJavaScript, Origin: OriginRemote}, nil

	default:
		return nil, newError(LoadError, specifier, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme))
	}
}

// Prepare turns raw source into executable text. Scripts are transpiled and
// their source maps stored; data modules are normalized to JSON.
func (l *Loader) Prepare(src *Source) (*Source, error) {
	if src.Prepared {
		return src, nil
	}
	out := *src
	out.Prepared = true

	switch src.Kind {
	case KindJSON:
		text, err := NormalizeData(src.Code, src.Media)
		if err != nil {
			return nil, newError(TranspileError, src.Specifier, err)
		}
		out.Code = text
		return &out, nil

	case KindScript:
		start := time.Now()
		res, err := Transpile(src.Specifier, src.Code, src.Media)
		l.metrics.ObserveTranspile(time.Since(start))
		if err != nil {
			return nil, newError(TranspileError, src.Specifier, err)
		}
		out.Code = res.Code
		if len(res.SourceMap) > 0 {
			l.maps.Put(src.Specifier, res.SourceMap)
			out.HasSourceMap = true
		}
		return &out, nil

	default:
		return nil, newError(LoadError, src.Specifier, ErrUnknownExtension)
	}
}

// LoadModule loads and prepares specifier in one step
func (l *Loader) LoadModule(ctx context.Context, specifier string) (*Source, error) {
	src, err := l.Load(ctx, specifier)
	if err != nil {
		return nil, err
	}
	return l.Prepare(src)
}

// GetSourceMap returns the map stored for specifier by an earlier Prepare
func (l *Loader) GetSourceMap(specifier string) ([]byte, bool) {
	return l.maps.Get(specifier)
}

// SourceMaps exposes the side-table for stack trace mapping
func (l *Loader) SourceMaps() *SourceMapStore {
	return l.maps
}

func originOf(specifier string) (Origin, bool) {
	switch {
	case strings.HasPrefix(specifier, InternalScheme+":"+VirtualPrefix):
		return OriginVirtual, true
	case strings.HasPrefix(specifier, InternalScheme+":"):
		return OriginBuiltin, true
	case strings.HasPrefix(specifier, "file:"):
		return OriginFile, true
	case strings.HasPrefix(specifier, "https:"):
		return OriginRemote, true
	default:
		return 0, false
	}
}

// FileSpecifier converts a local path into a file:// specifier
func FileSpecifier(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
