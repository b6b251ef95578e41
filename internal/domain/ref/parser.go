package ref

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseError describes a grammar the parser could not match, with the
// offending input preserved for diagnostics.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ref: cannot parse %q: %s", e.Input, e.Reason)
}

// Parse interprets s against the reference grammar described in
// SPEC_FULL.md C4. It accepts legacy (untyped) forms and does not require a
// type segment to be present; use Normalize when a type is mandatory.
func Parse(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}, &ParseError{Input: s, Reason: "empty input"}
	}
	return parse(s, "")
}

// parse implements steps 2-6 of the grammar. typ carries a type already
// stripped by an enclosing call (empty if none yet).
func parse(s string, typ Type) (Reference, error) {
	firstColon := strings.IndexByte(s, ':')

	// Step 2: leading type segment, recognized only if the part before the
	// first colon contains no dot and matches a known type or shorthand.
	if firstColon >= 0 {
		head := s[:firstColon]
		if !strings.Contains(head, ".") {
			if t, ok := knownTypes[head]; ok {
				rest := s[firstColon+1:]
				if rest == "" {
					return Reference{}, &ParseError{Input: s, Reason: "missing reference body after type"}
				}
				return parse(rest, t)
			}
		}
	}

	parts := strings.Split(s, ":")

	// Step 3: exactly three colon-parts, no dot in the first -> legacy
	// namespace:name:version (e.g. "local:name:version").
	if len(parts) == 3 && !strings.Contains(parts[0], ".") {
		return Reference{
			Type:      typ,
			Namespace: parts[0],
			Name:      parts[1],
			Version:   parts[2],
		}, nil
	}

	dotIdx := strings.IndexByte(s, '.')

	// Step 4: a dot appears before the first colon (or there is no colon at
	// all) -> namespace.name[:version].
	if dotIdx >= 0 && (firstColon < 0 || dotIdx < firstColon) {
		namespace := s[:dotIdx]
		remainder := s[dotIdx+1:]
		name := remainder
		version := VersionLatest
		if ci := strings.IndexByte(remainder, ':'); ci >= 0 {
			name = remainder[:ci]
			version = remainder[ci+1:]
			if version == "" {
				version = VersionLatest
			}
		}
		if name == "" {
			return Reference{}, &ParseError{Input: s, Reason: "missing component name"}
		}
		return Reference{Type: typ, Namespace: namespace, Name: name, Version: version}, nil
	}

	// Step 5: exactly one colon -> name:version, namespace defaults to "local".
	if len(parts) == 2 {
		name, version := parts[0], parts[1]
		if name == "" {
			return Reference{}, &ParseError{Input: s, Reason: "missing component name"}
		}
		if version == "" {
			version = VersionLatest
		}
		return Reference{Type: typ, Namespace: "local", Name: name, Version: version}, nil
	}

	// Step 6: bare name, namespace "local", version "latest".
	if len(parts) == 1 && parts[0] != "" {
		return Reference{Type: typ, Namespace: "local", Name: parts[0], Version: VersionLatest}, nil
	}

	return Reference{}, &ParseError{Input: s, Reason: "does not match any known reference grammar"}
}

// Normalize parses s and requires the result to carry an explicit type.
// Use this whenever a reference is about to be persisted or compared for
// authorization purposes; legacy untyped forms are rejected.
func Normalize(s string) (Reference, error) {
	r, err := Parse(s)
	if err != nil {
		return Reference{}, err
	}
	if r.Type == "" {
		return Reference{}, &ParseError{Input: s, Reason: "missing required type prefix (catalyst|reagent|formula or c|r|f)"}
	}
	if !r.Type.IsValid() {
		return Reference{}, &ParseError{Input: s, Reason: fmt.Sprintf("unknown component type %q", r.Type)}
	}
	return r, nil
}

// ValidateVersion reports whether v is either the "latest" sentinel or a
// strict three-dotted-numeric semantic version (no pre-release/build
// metadata, matching the source grammar's "semantic-version-like" wording).
func ValidateVersion(v string) error {
	if v == VersionLatest {
		return nil
	}
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return fmt.Errorf("ref: invalid version %q: %w", v, err)
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return fmt.Errorf("ref: version %q must be exactly three dotted numeric segments", v)
	}
	return nil
}
