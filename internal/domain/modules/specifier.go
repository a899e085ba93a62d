package modules

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// InternalScheme addresses built-in and virtual modules
	InternalScheme = "ext"
	// AliasScheme is rewritten to InternalScheme before resolution
	AliasScheme = "agentos"
	// VirtualPrefix marks the virtual namespace inside InternalScheme
	VirtualPrefix = "virtual/"
)

// VirtualSpecifier returns the internal specifier of a virtual module key
func VirtualSpecifier(key string) string {
	return InternalScheme + ":" + VirtualPrefix + key
}

// Resolve normalizes specifier against referrer into an absolute specifier.
//
// Alias specifiers are rewritten to the internal scheme first. Relative
// references resolve with standard URL rules against a hierarchical
// referrer; internal modules have no hierarchy to resolve against.
func Resolve(specifier, referrer string) (string, error) {
	s := strings.TrimSpace(specifier)
	if s == "" {
		return "", newError(ResolutionError, specifier, ErrEmptySpecifier)
	}

	if rest, ok := strings.CutPrefix(s, AliasScheme+":"); ok {
		s = InternalScheme + ":" + rest
	}
	if rest, ok := strings.CutPrefix(s, InternalScheme+":"); ok {
		if rest == "" || rest == VirtualPrefix {
			return "", newError(ResolutionError, specifier, ErrEmptySpecifier)
		}
		return InternalScheme + ":" + rest, nil
	}

	if isRelative(s) {
		return resolveRelative(s, referrer)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", newError(ResolutionError, specifier, err)
	}
	if u.Scheme == "" {
		return "", newError(ResolutionError, specifier, ErrBareSpecifier)
	}
	return u.String(), nil
}

func resolveRelative(s, referrer string) (string, error) {
	if referrer == "" {
		return "", newError(ResolutionError, s, fmt.Errorf("relative specifier without referrer"))
	}
	if strings.HasPrefix(referrer, InternalScheme+":") {
		return "", newError(ResolutionError, s, fmt.Errorf("%w %s", ErrRelativeFromInternal, referrer))
	}

	base, err := url.Parse(referrer)
	if err != nil {
		return "", newError(ResolutionError, s, fmt.Errorf("invalid referrer %q: %w", referrer, err))
	}
	if base.Scheme == "" || base.Opaque != "" {
		return "", newError(ResolutionError, s, fmt.Errorf("referrer %q is not hierarchical", referrer))
	}

	ref, err := url.Parse(s)
	if err != nil {
		return "", newError(ResolutionError, s, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func isRelative(s string) bool {
	return strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "/") ||
		s == "." || s == ".."
}
