package auth

import "strings"

// Scope narrows list-query visibility for a matched permission. It is a
// filter-construction hint for the business layer, not an authorization
// decision by itself.
type Scope string

const (
	// ScopeOwn restricts list queries to records the caller created or owns.
	ScopeOwn Scope = "own"
	// ScopeTeam restricts list queries to records sharing the caller's role.
	ScopeTeam Scope = "team"
	// ScopeAll applies no additional restriction.
	ScopeAll Scope = "all"
)

// IsValid checks if the scope is one of the recognized scope segments.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeOwn, ScopeTeam, ScopeAll:
		return true
	default:
		return false
	}
}

// Permission is a colon-delimited hierarchical permission string with one to
// three segments: resource[:action][:scope], e.g. "user:list:read",
// "audit:read", "role:update".
type Permission string

// Segments splits the permission into its parts.
func (p Permission) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ":")
}

// Resource returns the first segment.
func (p Permission) Resource() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

// Scope returns the trailing scope segment, if the final segment is one of
// the recognized scopes.
func (p Permission) Scope() (Scope, bool) {
	segments := p.Segments()
	if len(segments) < 2 {
		return "", false
	}
	scope := Scope(segments[len(segments)-1])
	return scope, scope.IsValid()
}

// Covers reports whether holding p authorizes the required permission: true
// when p equals required, or p is a strict ancestor of required in the colon
// hierarchy. A broader held permission authorizes everything beneath it.
func (p Permission) Covers(required string) bool {
	if p == "" || required == "" {
		return false
	}
	if string(p) == required {
		return true
	}
	return strings.HasPrefix(required, string(p)+":")
}

// Satisfies reports whether any held permission covers the required one.
func Satisfies(held []string, required string) bool {
	for _, p := range held {
		if Permission(p).Covers(required) {
			return true
		}
	}
	return false
}

// SatisfiesAll reports whether every required permission is covered. Used by
// the gate when an operation declares more than one required permission.
func SatisfiesAll(held []string, required []string) bool {
	for _, r := range required {
		if !Satisfies(held, r) {
			return false
		}
	}
	return true
}

// ScopeFor finds a held permission whose scope-stripped base covers required
// and returns its trailing scope segment. The returned bool reports whether an
// explicit scope was present; ScopeAll or no scoped match both mean the
// caller's list queries are unrestricted.
func ScopeFor(held []string, required string) (Scope, bool) {
	for _, p := range held {
		perm := Permission(p)
		scope, scoped := perm.Scope()
		if !scoped {
			continue
		}

		segments := perm.Segments()
		base := Permission(strings.Join(segments[:len(segments)-1], ":"))
		if base.Covers(required) {
			return scope, true
		}
	}
	return "", false
}
