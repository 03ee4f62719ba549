package route

import (
	"errors"
	"fmt"
	"net/http"
)

// Match failures. The API maps them to 404, 405 and 403.
var (
	ErrRouteNotFound     = errors.New("route: not found")
	ErrMethodNotAllowed  = errors.New("route: method not allowed")
	ErrPredicateMismatch = errors.New("route: predicate mismatch")
)

// Matcher resolves requests against an immutable set of routes.
type Matcher struct {
	routes map[string]*Route
}

// NewMatcher indexes routes by normalized path. The map is copied.
func NewMatcher(routes map[string]*Route) *Matcher {
	idx := make(map[string]*Route, len(routes))
	for key, r := range routes {
		p := r.Path
		if p == "" {
			p = key
		}
		idx[NormalizePath(p)] = r
	}
	return &Matcher{routes: idx}
}

// Lookup returns the route bound to path.
func (m *Matcher) Lookup(path string) (*Route, bool) {
	r, ok := m.routes[NormalizePath(path)]
	return r, ok
}

// Match checks, in order: exact path, method, header predicates, query
// predicates.
func (m *Matcher) Match(req *http.Request) (*Route, error) {
	r, ok := m.routes[req.URL.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, req.URL.Path)
	}
	if !r.Allows(req.Method) {
		return nil, fmt.Errorf("%w: %s %s", ErrMethodNotAllowed, req.Method, req.URL.Path)
	}

	for name, want := range r.Headers {
		values, present := req.Header[http.CanonicalHeaderKey(name)]
		if !present {
			return nil, fmt.Errorf("%w: missing header %s", ErrPredicateMismatch, name)
		}
		if want != "" && (len(values) == 0 || values[0] != want) {
			return nil, fmt.Errorf("%w: header %s", ErrPredicateMismatch, name)
		}
	}

	query := req.URL.Query()
	for name, want := range r.QueryParams {
		if !query.Has(name) {
			return nil, fmt.Errorf("%w: missing query parameter %s", ErrPredicateMismatch, name)
		}
		if want != "" && query.Get(name) != want {
			return nil, fmt.Errorf("%w: query parameter %s", ErrPredicateMismatch, name)
		}
	}

	return r, nil
}

// Len returns the number of routes.
func (m *Matcher) Len() int { return len(m.routes) }
