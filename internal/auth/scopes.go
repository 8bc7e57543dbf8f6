package auth

import (
	"sort"
	"strings"
)

// Scopes is the normalized set of OAuth scopes carried by a token.
type Scopes map[string]struct{}

// ParseScopes accepts the shapes identity providers use for the scope claim:
// a space separated string, or a JSON array of strings.
func ParseScopes(claim any) Scopes {
	scopes := Scopes{}
	switch v := claim.(type) {
	case string:
		for _, s := range strings.Fields(v) {
			scopes[s] = struct{}{}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				scopes[s] = struct{}{}
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					scopes[s] = struct{}{}
				}
			}
		}
	}
	return scopes
}

func NewScopes(values ...string) Scopes {
	return ParseScopes(values)
}

func (s Scopes) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

func (s Scopes) HasAll(required ...string) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Missing returns the required scopes not present in s, in the given order.
func (s Scopes) Missing(required ...string) []string {
	var missing []string
	for _, r := range required {
		if !s.Has(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

func (s Scopes) List() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

func (s Scopes) String() string {
	return strings.Join(s.List(), " ")
}
