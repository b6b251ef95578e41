package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"

	"github.com/cyfrworks/cyfr/internal/domain/ref"
)

// wasmMagic is the 4-byte WASM binary header ("\0asm") followed by the
// 4-byte format version (currently always 1, little-endian).
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

// ErrInvalidWASM is returned when bytes do not begin with the WASM magic
// header and version.
var ErrInvalidWASM = errors.New("registry: not a valid WASM module")

var nameGrammar = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateName enforces "lowercase alphanumerics + hyphen, 2-64 chars".
func ValidateName(name string) error {
	if len(name) < 2 || len(name) > 64 {
		return fmt.Errorf("registry: name %q must be 2-64 characters", name)
	}
	if !nameGrammar.MatchString(name) {
		return fmt.Errorf("registry: name %q must be lowercase alphanumerics and hyphens", name)
	}
	return nil
}

// ValidatePublishVersion enforces the three-dotted-numeric grammar and
// rejects the "latest" sentinel, which publish_bytes never accepts.
func ValidatePublishVersion(version string) error {
	if version == ref.VersionLatest {
		return errors.New("registry: \"latest\" is not an accepted version for publish")
	}
	return ref.ValidateVersion(version)
}

// ID computes the Component Record's stable id: a 16-hex-char xxhash of
// "publisher:name:version:type", prefixed "comp_". Unlike the digest (which
// changes every re-publish), this id is stable across overwrites of the
// same (publisher, name, version, type) so callers, e.g. a parent
// execution_id or a cache key, can reference "this component slot" rather
// than "this exact byte content".
func ID(publisher, name, version string, t ref.Type) string {
	sum := xxhash.Sum64String(publisher + ":" + name + ":" + version + ":" + string(t))
	return fmt.Sprintf("comp_%016x", sum)
}

// Digest computes the content address of wasmBytes.
func Digest(wasmBytes []byte) string {
	sum := sha256.Sum256(wasmBytes)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ValidateMagic checks the WASM binary header.
func ValidateMagic(wasmBytes []byte) error {
	if len(wasmBytes) < 8 {
		return ErrInvalidWASM
	}
	if string(wasmBytes[0:4]) != string(wasmMagic) || string(wasmBytes[4:8]) != string(wasmVersion) {
		return ErrInvalidWASM
	}
	return nil
}

// Exports compiles wasmBytes far enough to read its export section and
// returns the sorted list of export names, without instantiating the
// module (no host imports are resolved at this stage).
func Exports(ctx context.Context, wasmBytes []byte) ([]string, error) {
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("registry: compile module: %w", err)
	}
	defer compiled.Close(ctx)

	funcs := compiled.ExportedFunctions()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// InferType infers the suggested component type from a module's export
// names: an export literally named "execute" suggests formula; any export
// containing "http" or "socket" suggests catalyst; otherwise reagent.
func InferType(exports []string) ref.Type {
	for _, name := range exports {
		if name == "execute" {
			return ref.TypeFormula
		}
	}
	for _, name := range exports {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "http") || strings.Contains(lower, "socket") {
			return ref.TypeCatalyst
		}
	}
	return ref.TypeReagent
}

// CanonicalPath returns the storage adapter path segments for a component's
// WASM blob: components/<type>s/<publisher>/<name>/<version>/<type>.wasm.
func CanonicalPath(t ref.Type, publisher, name, version string) []string {
	return []string{"components", string(t) + "s", publisher, name, version, string(t) + ".wasm"}
}

// pathTypes maps a directory's plural type segment back to its Type.
var pathTypes = map[string]ref.Type{
	"catalysts": ref.TypeCatalyst,
	"reagents":  ref.TypeReagent,
	"formulas":  ref.TypeFormula,
}

// InferFromPath extracts (type, publisher, name, version) from a leaf
// directory matching components/<types>/<publisher>/<name>/<version>/.
// relPath must be the path relative to the components root, using '/'
// separators.
func InferFromPath(relPath string) (t ref.Type, publisher, name, version string, err error) {
	segments := strings.Split(strings.Trim(relPath, "/"), "/")
	if len(segments) < 4 {
		return "", "", "", "", fmt.Errorf("registry: path %q does not match <types>/<publisher>/<name>/<version>", relPath)
	}
	n := len(segments)
	version = segments[n-1]
	name = segments[n-2]
	publisher = segments[n-3]
	typesSeg := segments[n-4]
	typ, ok := pathTypes[typesSeg]
	if !ok {
		return "", "", "", "", fmt.Errorf("registry: unknown component type directory %q", typesSeg)
	}
	return typ, publisher, name, version, nil
}
