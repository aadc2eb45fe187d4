package fsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Lister is the subset of an adapter that glob expansion needs, scoped to a
// single root (a container or a store).
type Lister interface {
	List(ctx context.Context, dir string, recursive bool) ([]Entry, error)
	Info(ctx context.Context, path string) (Entry, error)
}

// HasMeta reports whether s contains glob metacharacters.
func HasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{\\")
}

// GlobBase splits pattern into the literal directory prefix that must be
// listed and reports whether that listing has to be recursive. A listing is
// recursive when the remaining pattern spans more than one segment or
// contains "**".
func GlobBase(pattern string) (base string, recursive bool) {
	segments := strings.Split(pattern, "/")

	i := 0
	for i < len(segments) && !HasMeta(segments[i]) {
		i++
	}

	if i == len(segments) {
		// No metacharacters: the whole pattern is a literal path.
		return pattern, false
	}

	rest := segments[i:]
	recursive = len(rest) > 1 || strings.Contains(pattern, "**")

	return strings.Join(segments[:i], "/"), recursive
}

// Glob expands pattern against l. Each segment is a shell glob ('*', '?',
// "[...]", "{a,b}"), and a "**" segment matches zero or more whole segments.
// Matches come back in listing order and include directories. A pattern
// without metacharacters yields itself when the path exists. A missing base
// directory yields no matches rather than an error.
func Glob(ctx context.Context, l Lister, pattern string) ([]string, error) {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return nil, nil
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	base, recursive := GlobBase(pattern)

	if base == pattern {
		if _, err := l.Info(ctx, pattern); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}

			return nil, err
		}

		return []string{pattern}, nil
	}

	entries, err := l.List(ctx, base, recursive)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	var matches []string

	for _, e := range entries {
		ok, matchErr := doublestar.Match(pattern, e.Path)
		if matchErr != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, pattern, matchErr)
		}

		if ok {
			matches = append(matches, e.Path)
		}
	}

	return matches, nil
}
