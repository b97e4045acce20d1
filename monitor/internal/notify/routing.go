package notify

import (
	"strings"
	"sync"
)

// Route maps a name pattern to a recipient set.
type Route struct {
	// Pattern matches by substring against the entity identity or its group.
	Pattern string

	// Recipients receive alerts for matching entities.
	Recipients []string
}

// Router resolves the recipient set for an entity: first matching route wins,
// in configured order, falling back to the default set. The table is
// swappable at runtime for config hot-reload.
type Router struct {
	mu       sync.RWMutex
	routes   []Route
	fallback []string
}

// NewRouter creates a Router with the given ordered routes and default
// recipient set.
func NewRouter(routes []Route, fallback []string) *Router {
	return &Router{routes: routes, fallback: fallback}
}

// Resolve returns the recipients for the given identity and group.
func (r *Router) Resolve(identity, group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.Pattern == "" {
			continue
		}
		if strings.Contains(identity, rt.Pattern) || strings.Contains(group, rt.Pattern) {
			return rt.Recipients
		}
	}
	return r.fallback
}

// Update replaces the routing table and fallback set. Called on config
// reload; in-flight Resolve calls see either the old or the new table.
func (r *Router) Update(routes []Route, fallback []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = routes
	r.fallback = fallback
}
