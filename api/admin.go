package api

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/target"
)

const defaultHistoryLimit = 10

type historyResponse struct {
	History []*history.Record `json:"history"`
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, r, http.StatusOK, historyResponse{History: []*history.Record{}})
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit == 0 {
		writeJSON(w, r, http.StatusOK, historyResponse{History: []*history.Record{}})
		return
	}

	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, r, http.StatusOK, historyResponse{History: records})
}

type testResponse struct {
	Status   string            `json:"status"`
	RecordID string            `json:"record_id"`
	Results  []history.Outcome `json:"results"`
}

func (h *Handler) sendTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dispatch.TestRequest{
		TargetID:  q.Get("target_id"),
		RoutePath: q.Get("route_path"),
	}

	res, err := h.dispatcher.Test(r.Context(), req)
	switch {
	case errors.Is(err, dispatch.ErrTargetNotFound), errors.Is(err, dispatch.ErrRouteNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, dispatch.ErrNoTargets):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	status := "success"
	for _, o := range res.Outcomes {
		if o.Status == history.StatusFailed {
			status = "error"
			break
		}
	}
	writeJSON(w, r, http.StatusOK, testResponse{
		Status:   status,
		RecordID: res.RecordID.String(),
		Results:  res.Outcomes,
	})
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	targets := h.registry.Snapshot().Targets()
	if targets == nil {
		targets = []*target.Target{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"targets": targets})
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.registry.Snapshot().Routes()
	out := make([]*route.Route, 0, len(routes))
	for _, path := range slices.Sorted(maps.Keys(routes)) {
		out = append(out, routes[path])
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"routes": out})
}

type healthResponse struct {
	Status   string    `json:"status"`
	Targets  int       `json:"targets"`
	Routes   int       `json:"routes"`
	LoadedAt time.Time `json:"loaded_at"`
	Error    string    `json:"error,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	resp := healthResponse{
		Status:   "ok",
		Targets:  len(snap.Targets()),
		Routes:   len(snap.Routes()),
		LoadedAt: snap.LoadedAt(),
	}

	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			writeJSON(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
