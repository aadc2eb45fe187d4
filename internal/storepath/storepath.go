// Package storepath parses scheme-qualified storage URIs into normalized
// container/path locations. It performs no I/O.
//
// Two URI shapes are understood:
//
//	adl://<store>/<path>                                  (host is the container)
//	abfs[s]://<container>@<account>.<dns-suffix>/<path>   (container and account in the host)
//
// Strings without a scheme are bare relative paths.
package storepath

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is the sentinel behind every PathError.
// Use errors.Is(err, storepath.ErrInvalidPath) to check.
var ErrInvalidPath = errors.New("storepath: invalid path")

// PathError reports a URI that does not match any recognized scheme shape.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("storepath: invalid path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error {
	return ErrInvalidPath
}

// Shape describes how a scheme lays out its authority component.
type Shape int

const (
	// ShapeBare marks a location parsed from a string without a scheme.
	ShapeBare Shape = iota
	// ShapeHostContainer treats the URI host as the container (Datalake Gen1 store).
	ShapeHostContainer
	// ShapeContainerAtAccount expects <container>@<account>.<dns-suffix> (Datalake Gen2).
	ShapeContainerAtAccount
)

func (s Shape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeHostContainer:
		return "host-container"
	case ShapeContainerAtAccount:
		return "container-at-account"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Scheme pairs a URI scheme name with its authority shape.
type Scheme struct {
	Name  string
	Shape Shape
}

// Location is a normalized storage path. Path never carries a scheme prefix,
// never starts or ends with a slash, and never contains empty segments.
type Location struct {
	Scheme    string // lowercase scheme, empty for bare paths
	Shape     Shape
	Container string
	Account   string // account name, ShapeContainerAtAccount only
	Host      string // full host after '@', ShapeContainerAtAccount only
	Path      string
}

// Split returns the first segment of Path and the remainder. Adapters that
// address containers through bare paths use the first segment as the container.
func (l Location) Split() (head, tail string) {
	head, tail, _ = strings.Cut(l.Path, "/")

	return head, tail
}

// String renders the location back into URI form for logs and messages.
func (l Location) String() string {
	switch l.Shape {
	case ShapeHostContainer:
		return l.Scheme + "://" + joinPath(l.Container, l.Path)
	case ShapeContainerAtAccount:
		return l.Scheme + "://" + l.Container + "@" + joinPath(l.Host, l.Path)
	default:
		return l.Path
	}
}

// Resolver maps raw path strings onto Locations using a set of recognized
// schemes. Register schemes before sharing a Resolver between goroutines;
// Resolve itself is read-only and safe for concurrent use.
type Resolver struct {
	schemes map[string]Shape
}

// NewResolver creates a Resolver recognizing exactly the given schemes.
// Later duplicates override earlier ones.
func NewResolver(schemes ...Scheme) *Resolver {
	r := &Resolver{schemes: make(map[string]Shape, len(schemes))}
	for _, s := range schemes {
		r.schemes[strings.ToLower(s.Name)] = s.Shape
	}

	return r
}

// DefaultResolver recognizes adl, abfs and abfss.
func DefaultResolver() *Resolver {
	return NewResolver(
		Scheme{Name: "adl", Shape: ShapeHostContainer},
		Scheme{Name: "abfs", Shape: ShapeContainerAtAccount},
		Scheme{Name: "abfss", Shape: ShapeContainerAtAccount},
	)
}

// Register adds a scheme. Registering a name twice is an error.
func (r *Resolver) Register(s Scheme) error {
	name := strings.ToLower(s.Name)
	if !validSchemeName(name) {
		return fmt.Errorf("storepath: invalid scheme name %q", s.Name)
	}

	if s.Shape != ShapeHostContainer && s.Shape != ShapeContainerAtAccount {
		return fmt.Errorf("storepath: scheme %q: unsupported shape %s", s.Name, s.Shape)
	}

	if _, ok := r.schemes[name]; ok {
		return fmt.Errorf("storepath: scheme %q already registered", name)
	}

	r.schemes[name] = s.Shape

	return nil
}

// Schemes returns the recognized scheme names in sorted order.
func (r *Resolver) Schemes() []string {
	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Resolve parses raw into a Location. The authority and path are separated
// with plain string operations instead of url.Parse so that glob
// metacharacters ('?', '#', '[', ']', '*') in the path reach the caller intact.
func (r *Resolver) Resolve(raw string) (Location, error) {
	idx := strings.Index(raw, "://")

	// A slash before "://" means it sits inside a path segment, not after a scheme.
	if idx < 0 || strings.Contains(raw[:idx], "/") {
		return Location{Shape: ShapeBare, Path: cleanPath(raw)}, nil
	}

	scheme := strings.ToLower(raw[:idx])
	if !validSchemeName(scheme) {
		return Location{}, &PathError{Path: raw, Reason: "malformed scheme"}
	}

	shape, ok := r.schemes[scheme]
	if !ok {
		return Location{}, &PathError{Path: raw, Reason: fmt.Sprintf("unrecognized scheme %q", scheme)}
	}

	authority, rest, _ := strings.Cut(raw[idx+len("://"):], "/")
	if authority == "" {
		return Location{}, &PathError{Path: raw, Reason: "missing host"}
	}

	loc := Location{Scheme: scheme, Shape: shape, Path: cleanPath(rest)}

	switch shape {
	case ShapeHostContainer:
		loc.Container = authority
	case ShapeContainerAtAccount:
		container, host, found := strings.Cut(authority, "@")
		if !found || container == "" || host == "" {
			return Location{}, &PathError{
				Path:   raw,
				Reason: "expected <container>@<account>.<dns-suffix>",
			}
		}

		account, _, _ := strings.Cut(host, ".")
		if account == "" {
			return Location{}, &PathError{Path: raw, Reason: "missing account name"}
		}

		loc.Container = container
		loc.Account = account
		loc.Host = host
	default:
		return Location{}, &PathError{Path: raw, Reason: fmt.Sprintf("scheme %q has no usable shape", scheme)}
	}

	return loc, nil
}

// cleanPath normalizes to NFC, drops leading, trailing and repeated slashes.
// It is idempotent.
func cleanPath(p string) string {
	p = norm.NFC.String(p)
	if !strings.Contains(p, "/") {
		return p
	}

	segments := strings.Split(p, "/")
	kept := segments[:0]

	for _, seg := range segments {
		if seg != "" {
			kept = append(kept, seg)
		}
	}

	return strings.Join(kept, "/")
}

func joinPath(a, b string) string {
	if b == "" {
		return a
	}

	return a + "/" + b
}

// validSchemeName follows RFC 3986: ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ).
func validSchemeName(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}

	return true
}
