package policy

// Decision is the outcome of evaluating a Host Policy against one request
// facet (a domain, a tool call, a storage path, ...). Every consultation is
// also the audit record C10 persists, so Reason must stand on its own.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow builds an allowing Decision with the given reason.
func Allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

// Deny builds a denying Decision with the given reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
