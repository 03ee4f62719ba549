package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/forwarder/route"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 10 << 20

var errInvalidJSON = errors.New("invalid JSON body")

type acceptedResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id"`
	Route    string `json:"route"`
}

// ingress matches the request to a configured route, decodes the body and
// hands it to the dispatcher. The caller is acknowledged once the route
// matched, regardless of delivery outcomes.
func (h *Handler) ingress(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()

	rt, err := snap.Matcher().Match(r)
	switch {
	case errors.Is(err, route.ErrRouteNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, route.ErrMethodNotAllowed):
		if bound, ok := snap.Matcher().Lookup(r.URL.Path); ok {
			w.Header().Set("Allow", strings.Join(bound.AllowedMethods(), ", "))
		}
		writeError(w, r, http.StatusMethodNotAllowed, err.Error())
		return
	case errors.Is(err, route.ErrPredicateMismatch):
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	payload, err := decodePayload(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res := h.dispatcher.DispatchSnapshot(r.Context(), snap, rt, r.Method, payload)
	writeJSON(w, r, http.StatusOK, acceptedResponse{
		Status:   "accepted",
		RecordID: res.RecordID.String(),
		Route:    rt.Path,
	})
}

// decodePayload turns the body into a JSON-shaped value according to its
// content type: JSON as is, forms as a flat mapping, text as {"text": ...}.
// Unknown content types are tried as JSON first, then as text. An empty
// body yields an empty mapping.
func decodePayload(w http.ResponseWriter, r *http.Request) (any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		return formValues(r.PostForm), nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		return formValues(r.MultipartForm.Value), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidJSON, err)
		}
		return v, nil

	case mediaType == "text/plain":
		return textPayload(body), nil

	default:
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v, nil
		}
		return textPayload(body), nil
	}
}

// formValues keeps the first value of every field.
func formValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func textPayload(body []byte) map[string]any {
	return map[string]any{"text": strings.ToValidUTF8(string(body), "")}
}
