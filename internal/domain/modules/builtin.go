package modules

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed builtin
var builtinFS embed.FS

// builtins is keyed by path below builtin/ without the .ts extension,
// e.g. "std/main" for builtin/std/main.ts.
var builtins = loadBuiltins()

func loadBuiltins() map[string]string {
	out := make(map[string]string)
	err := fs.WalkDir(builtinFS, "builtin", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".ts") {
			return err
		}
		data, err := builtinFS.ReadFile(p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(strings.TrimPrefix(p, "builtin/"), ".ts")
		out[key] = string(data)
		return nil
	})
	if err != nil {
		panic("modules: embedded builtins unreadable: " + err.Error())
	}
	return out
}

// LookupBuiltin returns the compiled-in module at exactly path
func LookupBuiltin(path string) (string, bool) {
	code, ok := builtins[path]
	return code, ok
}

// BuiltinNames lists the compiled-in module paths
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for k := range builtins {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
