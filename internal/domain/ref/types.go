// Package ref implements the canonical component reference grammar:
// type:namespace.name:version, plus the legacy forms the parser must still
// accept for migration and backward-compatible reads.
package ref

// Type is the closed sum of component kinds a Reference may name.
type Type string

const (
	// TypeCatalyst is an I/O-capable component (HTTP egress, storage, tool re-entry).
	TypeCatalyst Type = "catalyst"
	// TypeReagent is a pure, side-effect-free component.
	TypeReagent Type = "reagent"
	// TypeFormula is a component that composes other components via mcp.tools.call.
	TypeFormula Type = "formula"
)

// shorthand maps the single-letter type aliases to their expanded form.
var shorthand = map[string]Type{
	"c": TypeCatalyst,
	"r": TypeReagent,
	"f": TypeFormula,
}

// knownTypes maps every accepted spelling (full name or shorthand) to its
// expanded Type, used by Parse step 2 to recognize a leading type segment.
var knownTypes = map[string]Type{
	"catalyst": TypeCatalyst,
	"reagent":  TypeReagent,
	"formula":  TypeFormula,
	"c":        TypeCatalyst,
	"r":        TypeReagent,
	"f":        TypeFormula,
}

// IsValid reports whether t is one of the three known component types.
func (t Type) IsValid() bool {
	switch t {
	case TypeCatalyst, TypeReagent, TypeFormula:
		return true
	default:
		return false
	}
}

// VersionLatest is the literal version string meaning "most recently
// published" (see DESIGN.md Open Question #1 for the resolution rule).
const VersionLatest = "latest"

// Reference is a parsed component handle. Type is empty when the input had
// no type segment and none could be inferred (legacy forms); Normalize
// rejects such references.
type Reference struct {
	Type      Type
	Namespace string
	Name      string
	Version   string
}

// Equal compares two references on all four fields. Both references should
// already be expanded (e.g. via Parse/Normalize) since Equal does not expand
// shorthand types itself.
func (r Reference) Equal(other Reference) bool {
	return r.Type == other.Type &&
		r.Namespace == other.Namespace &&
		r.Name == other.Name &&
		r.Version == other.Version
}

// String renders the canonical type:namespace.name:version form. If Type is
// empty, the type segment is omitted (legacy, unnormalized form).
func (r Reference) String() string {
	body := r.Namespace + "." + r.Name + ":" + r.Version
	if r.Type == "" {
		return body
	}
	return string(r.Type) + ":" + body
}

// IsLatest reports whether this reference's version is the "latest" sentinel.
func (r Reference) IsLatest() bool {
	return r.Version == VersionLatest
}
