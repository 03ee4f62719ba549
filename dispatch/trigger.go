package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forwarder/event"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/id"
	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/target"
)

// TestPath is recorded as the route path of test deliveries that do not go
// through a configured route.
const TestPath = "/_hookrelay/test"

// Test trigger errors.
var (
	ErrTargetNotFound = errors.New("dispatch: target not found")
	ErrRouteNotFound  = errors.New("dispatch: route not found")
	ErrNoTargets      = errors.New("dispatch: no enabled targets")
)

// TestRequest selects where a test message goes. TargetID wins over
// RoutePath; with neither set every enabled target receives it.
type TestRequest struct {
	TargetID  string `json:"target_id,omitempty"`
	RoutePath string `json:"route_path,omitempty"`
}

// TestMessage returns the representative event sent by the test trigger.
func (d *Dispatcher) TestMessage() map[string]any {
	return map[string]any{
		event.KeyEventType:   "test",
		event.KeyDescription: "This is a test message",
		"timestamp":          d.now().UnixMilli(),
		event.KeyData: map[string]any{
			"symbol":    "BTC/USDT",
			"operation": "test",
			"price":     50000,
			"amount":    0.1,
		},
	}
}

// Test sends the test message and waits for the outcomes. A target test
// bypasses the target's filters; a route test runs the full pipeline.
func (d *Dispatcher) Test(ctx context.Context, req TestRequest) (Result, error) {
	snap := d.registry.Snapshot()
	msg := d.TestMessage()

	switch {
	case req.TargetID != "":
		t, ok := snap.Target(req.TargetID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrTargetNotFound, req.TargetID)
		}
		return d.DispatchTarget(ctx, t, event.Event(msg)), nil

	case req.RoutePath != "":
		r, ok := snap.Matcher().Lookup(req.RoutePath)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrRouteNotFound, route.NormalizePath(req.RoutePath))
		}
		return d.dispatch(ctx, snap, r, http.MethodPost, msg, false), nil

	default:
		var enabled []*target.Target
		for _, t := range snap.Targets() {
			if t.Enabled {
				enabled = append(enabled, t)
			}
		}
		if len(enabled) == 0 {
			return Result{}, ErrNoTargets
		}
		rec := d.newRecord(msg)
		return Result{
			Accepted: true,
			RecordID: rec.ID,
			Event:    event.Event(rec.RenderedEvent),
			Outcomes: d.fanOut(ctx, rec, enabled, true),
		}, nil
	}
}

// DispatchTarget delivers a prepared event to a single target without
// applying its filters, and records the attempt in history.
func (d *Dispatcher) DispatchTarget(ctx context.Context, t *target.Target, evt event.Event) Result {
	rec := d.newRecord(evt)
	return Result{
		Accepted: true,
		RecordID: rec.ID,
		Event:    evt,
		Outcomes: d.fanOut(ctx, rec, []*target.Target{t}, false),
	}
}

func (d *Dispatcher) newRecord(evt map[string]any) *history.Record {
	now := d.now().UTC()
	return &history.Record{
		ID:            id.NewDispatchID(),
		Seq:           history.NextSeq(now),
		Timestamp:     now,
		RoutePath:     TestPath,
		Method:        http.MethodPost,
		RawPayload:    evt,
		RenderedEvent: evt,
	}
}
