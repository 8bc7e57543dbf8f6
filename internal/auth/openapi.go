package auth

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDocument struct {
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
	Security []map[string][]string          `yaml:"security"`
	Paths    map[string]map[string]yaml.Node `yaml:"paths"`
}

type openAPIOperation struct {
	Security *[]map[string][]string `yaml:"security"`
}

type routeScopes struct {
	method   string
	segments []string
	scopes   []string
}

// ScopeMap holds the scopes each documented operation requires, as declared
// by the security requirements of an OpenAPI 3 document.
type ScopeMap struct {
	basePath string
	routes   []routeScopes
}

func LoadScopeMap(path string) (*ScopeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAPI document: %w", err)
	}
	return ParseScopeMap(data)
}

func ParseScopeMap(data []byte) (*ScopeMap, error) {
	var doc openAPIDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}

	m := &ScopeMap{}
	if len(doc.Servers) > 0 {
		if u, err := url.Parse(doc.Servers[0].URL); err == nil {
			m.basePath = strings.TrimRight(u.Path, "/")
		}
	}

	for path, item := range doc.Paths {
		for method, node := range item {
			method = strings.ToUpper(method)
			if !isHTTPMethod(method) {
				continue
			}

			var op openAPIOperation
			if err := node.Decode(&op); err != nil {
				return nil, fmt.Errorf("invalid operation %s %s: %w", method, path, err)
			}

			security := doc.Security
			if op.Security != nil {
				security = *op.Security
			}

			m.routes = append(m.routes, routeScopes{
				method:   method,
				segments: splitPath(path),
				scopes:   unionScopes(security),
			})
		}
	}

	// Literal segments win over templates when both match.
	sort.SliceStable(m.routes, func(i, j int) bool {
		return templateCount(m.routes[i].segments) < templateCount(m.routes[j].segments)
	})

	return m, nil
}

// Required returns the scopes for a request. ok is false when the document
// does not describe the route.
func (m *ScopeMap) Required(method, path string) ([]string, bool) {
	if m == nil {
		return nil, false
	}

	candidates := []string{path}
	if m.basePath != "" && strings.HasPrefix(path, m.basePath) {
		candidates = append(candidates, strings.TrimPrefix(path, m.basePath))
	}

	for _, candidate := range candidates {
		segments := splitPath(candidate)
		for _, route := range m.routes {
			if route.method == strings.ToUpper(method) && matchSegments(route.segments, segments) {
				return route.scopes, true
			}
		}
	}
	return nil, false
}

func unionScopes(security []map[string][]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, requirement := range security {
		for _, scopes := range requirement {
			for _, s := range scopes {
				if !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchSegments(pattern, actual []string) bool {
	if len(pattern) != len(actual) {
		return false
	}
	for i, p := range pattern {
		if isTemplate(p) {
			if actual[i] == "" {
				return false
			}
			continue
		}
		if p != actual[i] {
			return false
		}
	}
	return true
}

func isTemplate(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

func templateCount(segments []string) int {
	n := 0
	for _, s := range segments {
		if isTemplate(s) {
			n++
		}
	}
	return n
}

func isHTTPMethod(method string) bool {
	switch method {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return true
	}
	return false
}
