package route_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/forwarder/preprocess"
	"github.com/xraph/forwarder/route"
)

func matcher() *route.Matcher {
	return route.NewMatcher(map[string]*route.Route{
		"/webhook/trade": {
			Path:      "/webhook/trade",
			TargetIDs: []string{"a"},
		},
		"/webhook/guarded": {
			Path:        "/webhook/guarded",
			Methods:     []string{"post", "put"},
			Headers:     map[string]string{"X-Token": "s3cret", "x-source": ""},
			QueryParams: map[string]string{"env": "prod", "debug": ""},
		},
		"no-slash": {Path: "no-slash"},
	})
}

func TestMatch(t *testing.T) {
	m := matcher()

	tests := []struct {
		name    string
		method  string
		target  string
		headers map[string]string
		wantErr error
		want    string
	}{
		{"exact path", http.MethodPost, "/webhook/trade", nil, nil, "/webhook/trade"},
		{"unknown path", http.MethodPost, "/webhook/other", nil, route.ErrRouteNotFound, ""},
		{"prefix is not a match", http.MethodPost, "/webhook/trade/x", nil, route.ErrRouteNotFound, ""},
		{"default method is post", http.MethodGet, "/webhook/trade", nil, route.ErrMethodNotAllowed, ""},
		{"normalized path", http.MethodPost, "/no-slash", nil, nil, "no-slash"},
		{
			"all predicates", http.MethodPut, "/webhook/guarded?env=prod&debug=",
			map[string]string{"X-Token": "s3cret", "X-Source": "anything"}, nil, "/webhook/guarded",
		},
		{
			"wrong header value", http.MethodPost, "/webhook/guarded?env=prod&debug=1",
			map[string]string{"X-Token": "nope", "X-Source": "a"}, route.ErrPredicateMismatch, "",
		},
		{
			"missing presence header", http.MethodPost, "/webhook/guarded?env=prod&debug=1",
			map[string]string{"X-Token": "s3cret"}, route.ErrPredicateMismatch, "",
		},
		{
			"wrong query value", http.MethodPost, "/webhook/guarded?env=dev&debug=1",
			map[string]string{"X-Token": "s3cret", "X-Source": "a"}, route.ErrPredicateMismatch, "",
		},
		{
			"missing presence query", http.MethodPost, "/webhook/guarded?env=prod",
			map[string]string{"X-Token": "s3cret", "X-Source": "a"}, route.ErrPredicateMismatch, "",
		},
		{
			"method checked before predicates", http.MethodGet, "/webhook/guarded",
			nil, route.ErrMethodNotAllowed, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			r, err := m.Match(req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Path)
		})
	}
}

func TestLookup(t *testing.T) {
	m := matcher()

	r, ok := m.Lookup("webhook/trade")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, r.TargetIDs)
	assert.Equal(t, 3, m.Len())
}

func TestRouteValidate(t *testing.T) {
	assert.NoError(t, (&route.Route{Path: "/a"}).Validate())
	assert.Error(t, (&route.Route{}).Validate())
	assert.Error(t, (&route.Route{Path: "/_hookrelay/history"}).Validate())
	assert.Error(t, (&route.Route{Path: "/metrics"}).Validate())
	assert.Error(t, (&route.Route{Path: "/a", Methods: []string{"TRACE"}}).Validate())
	assert.Error(t, (&route.Route{
		Path:       "/a",
		Preprocess: &preprocess.Spec{Transformations: map[string]string{"x": "nope"}},
	}).Validate())
}

func TestAllowedMethods(t *testing.T) {
	assert.Equal(t, []string{"POST"}, (&route.Route{}).AllowedMethods())
	assert.True(t, (&route.Route{Methods: []string{"get"}}).Allows("GET"))
}
