package modules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// JSXImportSource is the module prefix automatic JSX imports its runtime
// from; the transpiler appends "/jsx-runtime".
const JSXImportSource = AliasScheme + ":std"

// Transpiled is executable script text plus its source map
type Transpiled struct {
	Code      string
	SourceMap []byte
}

// Transpile lowers module source of the given media type into the
// CommonJS form the runtime evaluates. The source map names specifier as
// its only source.
func Transpile(specifier, source string, media MediaType) (*Transpiled, error) {
	loader, err := esbuildLoader(media)
	if err != nil {
		return nil, err
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:          loader,
		Format:          api.FormatCommonJS,
		Target:          api.ES2017,
		Sourcemap:       api.SourceMapExternal,
		SourcesContent:  api.SourcesContentInclude,
		Sourcefile:      specifier,
		JSX:             api.JSXAutomatic,
		JSXImportSource: JSXImportSource,
		LogLevel:        api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, formatMessages(result.Errors)
	}

	return &Transpiled{
		Code:      string(result.Code),
		SourceMap: result.Map,
	}, nil
}

func esbuildLoader(media MediaType) (api.Loader, error) {
	switch media {
	case MediaJavaScript:
		return api.LoaderJS, nil
	case MediaJSX:
		return api.LoaderJSX, nil
	case MediaTypeScript:
		return api.LoaderTS, nil
	case MediaTSX:
		return api.LoaderTSX, nil
	default:
		return api.LoaderNone, fmt.Errorf("%w: %s is not a script", ErrUnknownExtension, media)
	}
}

func formatMessages(msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s (%d:%d)", m.Text, m.Location.Line, m.Location.Column+1))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

// NormalizeData parses a data module and re-encodes it as JSON text
func NormalizeData(source string, media MediaType) (string, error) {
	var doc interface{}
	switch media {
	case MediaJSON:
		if !sonic.ValidString(source) {
			return "", errors.New("invalid JSON document")
		}
		return source, nil
	case MediaYAML:
		if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
			return "", fmt.Errorf("invalid YAML document: %w", err)
		}
	case MediaTOML:
		if err := toml.Unmarshal([]byte(source), &doc); err != nil {
			return "", fmt.Errorf("invalid TOML document: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %s is not data", ErrUnknownExtension, media)
	}

	out, err := sonic.MarshalString(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s as JSON: %w", media, err)
	}
	return out, nil
}
