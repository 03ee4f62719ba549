// Package route binds inbound paths and methods to targets, templates and
// preprocessing, and matches requests against those bindings.
package route

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/xraph/forwarder/preprocess"
)

// AdminPrefix is reserved for the admin API and cannot be used by routes.
const AdminPrefix = "/_hookrelay"

// MetricsPath is reserved for the metrics endpoint.
const MetricsPath = "/metrics"

var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Route binds an inbound path to a set of targets.
type Route struct {
	// Path is the exact request path. Unique across routes.
	Path string `json:"path" yaml:"path"`

	// TargetIDs are delivered to in order. Unknown ids are skipped.
	TargetIDs []string `json:"target_ids" yaml:"target_ids"`

	// Methods defaults to POST.
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`

	// Headers must be present on the request. An empty value only requires
	// presence.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// QueryParams follow the same rules as Headers.
	QueryParams map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`

	// Template names a template applied after preprocessing.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	Preprocess *preprocess.Spec `json:"preprocess,omitempty" yaml:"preprocess,omitempty"`

	// EventType is used when neither the template nor the payload name one.
	EventType string `json:"event_type,omitempty" yaml:"event_type,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NormalizePath ensures a leading slash.
func NormalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// AllowedMethods returns the upper-cased methods, defaulting to POST.
func (r *Route) AllowedMethods() []string {
	if len(r.Methods) == 0 {
		return []string{http.MethodPost}
	}
	out := make([]string, 0, len(r.Methods))
	for _, m := range r.Methods {
		out = append(out, strings.ToUpper(m))
	}
	return out
}

// Allows reports whether method is accepted by the route.
func (r *Route) Allows(method string) bool {
	return slices.Contains(r.AllowedMethods(), strings.ToUpper(method))
}

// Validate checks the route's own invariants. Target and template
// references are checked by the registry.
func (r *Route) Validate() error {
	p := NormalizePath(r.Path)
	if r.Path == "" {
		return fmt.Errorf("route: path is required")
	}
	if p == MetricsPath || p == AdminPrefix || strings.HasPrefix(p, AdminPrefix+"/") {
		return fmt.Errorf("route %s: path is reserved", p)
	}
	for _, m := range r.AllowedMethods() {
		if !slices.Contains(allowedMethods, m) {
			return fmt.Errorf("route %s: unsupported method %q", p, m)
		}
	}
	if err := r.Preprocess.Validate(); err != nil {
		return fmt.Errorf("route %s: %w", p, err)
	}
	return nil
}
