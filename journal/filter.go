package journal

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// PathFilter decides which journal events are worth recording
type PathFilter struct {
	scopes      []string
	ignoreNames []glob.Glob
}

// NewPathFilter creates a filter from absolute scope prefixes and ignored
// property names. Ignore entries are glob patterns; a plain name only matches
// itself.
func NewPathFilter(scopes, ignorePropertyNames []string) (*PathFilter, error) {
	if len(scopes) == 0 {
		return nil, invalidRequest("at least one scope is required")
	}

	filter := &PathFilter{
		scopes:      make([]string, 0, len(scopes)),
		ignoreNames: make([]glob.Glob, 0, len(ignorePropertyNames)),
	}

	for _, scope := range scopes {
		if !strings.HasPrefix(scope, "/") {
			return nil, invalidRequest("scope %q is not an absolute path", scope)
		}
		// "/a/" and "/a" describe the same subtree
		if len(scope) > 1 {
			scope = strings.TrimRight(scope, "/")
			if scope == "" {
				scope = "/"
			}
		}
		filter.scopes = append(filter.scopes, scope)
	}

	for _, name := range ignorePropertyNames {
		g, err := glob.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ignore pattern %q: %v", ErrInvalidRequest, name, err)
		}
		filter.ignoreNames = append(filter.ignoreNames, g)
	}

	return filter, nil
}

// InScope returns true if path equals or descends from a configured scope
func (f *PathFilter) InScope(path string) bool {
	for _, scope := range f.scopes {
		if isSameOrDescendant(path, scope) {
			return true
		}
	}
	return false
}

// Ignored returns true for property events whose name is on the ignore list
func (f *PathFilter) Ignored(ev Event) bool {
	if !ev.Type.IsProperty() || len(f.ignoreNames) == 0 {
		return false
	}
	name := lastSegment(ev.Path)
	for _, g := range f.ignoreNames {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func isSameOrDescendant(path, ancestor string) bool {
	if ancestor == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, ancestor) {
		return false
	}
	return len(path) == len(ancestor) || path[len(ancestor)] == '/'
}

func isDescendant(path, ancestor string) bool {
	return path != ancestor && isSameOrDescendant(path, ancestor)
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
