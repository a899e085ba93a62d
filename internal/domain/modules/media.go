package modules

import (
	"path"
	"strings"
)

// MediaType is the source language of a module, derived from its extension
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaJavaScript
	MediaJSX
	MediaTypeScript
	MediaTSX
	MediaJSON
	MediaYAML
	MediaTOML
)

// String returns the string representation of the media type
func (m MediaType) String() string {
	switch m {
	case MediaJavaScript:
		return "javascript"
	case MediaJSX:
		return "jsx"
	case MediaTypeScript:
		return "typescript"
	case MediaTSX:
		return "tsx"
	case MediaJSON:
		return "json"
	case MediaYAML:
		return "yaml"
	case MediaTOML:
		return "toml"
	default:
		return "unknown"
	}
}

// ModuleKind is the logical kind of a loaded module
type ModuleKind int

const (
	KindUnknown ModuleKind = iota
	KindScript
	KindJSON
)

// String returns the string representation of the kind
func (k ModuleKind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// MediaTypeFromPath classifies a path or URL path by its extension
func MediaTypeFromPath(p string) MediaType {
	switch strings.ToLower(path.Ext(p)) {
	case ".js", ".mjs", ".cjs":
		return MediaJavaScript
	case ".jsx":
		return MediaJSX
	case ".ts", ".mts", ".cts":
		return MediaTypeScript
	case ".tsx":
		return MediaTSX
	case ".json":
		return MediaJSON
	case ".yaml", ".yml":
		return MediaYAML
	case ".toml":
		return MediaTOML
	default:
		return MediaUnknown
	}
}

// Kind maps the media type to its module kind
func (m MediaType) Kind() ModuleKind {
	switch m {
	case MediaJavaScript, MediaJSX, MediaTypeScript, MediaTSX:
		return KindScript
	case MediaJSON, MediaYAML, MediaTOML:
		return KindJSON
	default:
		return KindUnknown
	}
}
