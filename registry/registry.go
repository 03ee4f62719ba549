// Package registry holds the targets, routes and templates the dispatcher
// reads. Each dispatch sees one immutable Snapshot; reloads publish a new
// snapshot atomically.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/target"
	"github.com/xraph/forwarder/template"
)

// Provider is the read side of the management collaborator.
type Provider interface {
	Targets() []*target.Target
	Routes() map[string]*route.Route
	Templates() map[string]*template.Template
}

// Snapshot is an immutable, validated view of the configuration. Callers
// must not modify the values it returns.
type Snapshot struct {
	targets   []*target.Target
	byID      map[string]*target.Target
	routes    map[string]*route.Route
	templates map[string]*template.Template
	matcher   *route.Matcher
	loadedAt  time.Time
}

var _ Provider = (*Snapshot)(nil)

// NewSnapshot validates doc and indexes it. Route keys are normalized and
// route paths are filled in from their keys.
func NewSnapshot(doc *Document) (*Snapshot, error) {
	if doc == nil {
		doc = &Document{}
	}

	s := &Snapshot{
		targets:   make([]*target.Target, 0, len(doc.Targets)),
		byID:      make(map[string]*target.Target, len(doc.Targets)),
		routes:    make(map[string]*route.Route, len(doc.Routes)),
		templates: make(map[string]*template.Template, len(doc.Templates)),
		loadedAt:  time.Now().UTC(),
	}

	for i, t := range doc.Targets {
		if t == nil {
			return nil, fmt.Errorf("%w: targets[%d] is empty", ErrInvalidConfig, i)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if _, dup := s.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate target id %q", ErrInvalidConfig, t.ID)
		}
		s.byID[t.ID] = t
		s.targets = append(s.targets, t)
	}

	for name, tmpl := range doc.Templates {
		if tmpl == nil {
			return nil, fmt.Errorf("%w: template %q is empty", ErrInvalidConfig, name)
		}
		s.templates[name] = tmpl
	}

	for _, key := range slices.Sorted(maps.Keys(doc.Routes)) {
		r := doc.Routes[key]
		if r == nil {
			r = &route.Route{}
		}
		cp := *r
		if cp.Path == "" {
			cp.Path = key
		}
		cp.Path = route.NormalizePath(cp.Path)

		if err := cp.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if _, dup := s.routes[cp.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate route path %q", ErrInvalidConfig, cp.Path)
		}
		if cp.Template != "" {
			if _, ok := s.templates[cp.Template]; !ok {
				return nil, fmt.Errorf("%w: route %s: unknown template %q", ErrInvalidConfig, cp.Path, cp.Template)
			}
		}
		s.routes[cp.Path] = &cp
	}

	s.matcher = route.NewMatcher(s.routes)
	return s, nil
}

// Targets returns every target in configuration order.
func (s *Snapshot) Targets() []*target.Target { return s.targets }

// Routes returns routes keyed by normalized path.
func (s *Snapshot) Routes() map[string]*route.Route { return s.routes }

// Templates returns templates keyed by name.
func (s *Snapshot) Templates() map[string]*template.Template { return s.templates }

// Target returns the target with the given id.
func (s *Snapshot) Target(id string) (*target.Target, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// Template returns the named template.
func (s *Snapshot) Template(name string) (*template.Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Matcher returns the route matcher for this snapshot.
func (s *Snapshot) Matcher() *route.Matcher { return s.matcher }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Registry publishes snapshots to concurrent readers.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

var _ Provider = (*Registry)(nil)

// New returns a registry serving s. A nil snapshot is replaced by an empty
// one.
func New(s *Snapshot) *Registry {
	r := &Registry{}
	r.Publish(s)
	return r
}

// Snapshot returns the current snapshot. Readers should call it once per
// operation and use the result throughout.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Publish replaces the current snapshot.
func (r *Registry) Publish(s *Snapshot) {
	if s == nil {
		s, _ = NewSnapshot(nil)
	}
	r.current.Store(s)
}

// Targets implements Provider against the current snapshot.
func (r *Registry) Targets() []*target.Target { return r.Snapshot().Targets() }

// Routes implements Provider against the current snapshot.
func (r *Registry) Routes() map[string]*route.Route { return r.Snapshot().Routes() }

// Templates implements Provider against the current snapshot.
func (r *Registry) Templates() map[string]*template.Template { return r.Snapshot().Templates() }
