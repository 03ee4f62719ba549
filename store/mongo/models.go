package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/id"
)

type outcomeModel struct {
	TargetID   string `bson:"target_id"`
	TargetName string `bson:"target_name,omitempty"`
	Status     string `bson:"status"`
	AttemptID  string `bson:"attempt_id,omitempty"`
	HTTPStatus int    `bson:"http_status,omitempty"`
	Error      string `bson:"error,omitempty"`
	LatencyMs  int    `bson:"latency_ms,omitempty"`
	SkipReason string `bson:"skip_reason,omitempty"`
}

type recordModel struct {
	ID            string         `bson:"_id"`
	Seq           int64          `bson:"seq"`
	Timestamp     time.Time      `bson:"timestamp"`
	RoutePath     string         `bson:"route_path"`
	Method        string         `bson:"method,omitempty"`
	RawPayload    any            `bson:"raw_payload"`
	RenderedEvent map[string]any `bson:"rendered_event"`
	Outcomes      []outcomeModel `bson:"outcomes"`
}

func toRecordModel(rec *history.Record) *recordModel {
	outcomes := make([]outcomeModel, 0, len(rec.Outcomes))
	for _, o := range rec.Outcomes {
		outcomes = append(outcomes, outcomeModel{
			TargetID:   o.TargetID,
			TargetName: o.TargetName,
			Status:     string(o.Status),
			AttemptID:  o.AttemptID.String(),
			HTTPStatus: o.HTTPStatus,
			Error:      o.Error,
			LatencyMs:  o.LatencyMs,
			SkipReason: o.SkipReason,
		})
	}
	return &recordModel{
		ID:            rec.ID.String(),
		Seq:           rec.Seq,
		Timestamp:     rec.Timestamp,
		RoutePath:     rec.RoutePath,
		Method:        rec.Method,
		RawPayload:    rec.RawPayload,
		RenderedEvent: rec.RenderedEvent,
		Outcomes:      outcomes,
	}
}

func fromRecordModel(m *recordModel) (*history.Record, error) {
	recID, err := id.ParseDispatchID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}

	outcomes := make([]history.Outcome, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		var attemptID id.ID
		if o.AttemptID != "" {
			if attemptID, err = id.Parse(o.AttemptID); err != nil {
				return nil, fmt.Errorf("parse attempt ID %q: %w", o.AttemptID, err)
			}
		}
		outcomes = append(outcomes, history.Outcome{
			TargetID:   o.TargetID,
			TargetName: o.TargetName,
			Status:     history.Status(o.Status),
			AttemptID:  attemptID,
			HTTPStatus: o.HTTPStatus,
			Error:      o.Error,
			LatencyMs:  o.LatencyMs,
			SkipReason: o.SkipReason,
		})
	}

	rendered, _ := plain(m.RenderedEvent).(map[string]any)
	return &history.Record{
		ID:            recID,
		Seq:           m.Seq,
		Timestamp:     m.Timestamp.UTC(),
		RoutePath:     m.RoutePath,
		Method:        m.Method,
		RawPayload:    plain(m.RawPayload),
		RenderedEvent: rendered,
		Outcomes:      outcomes,
	}, nil
}

// plain converts decoded BSON documents and arrays back into the
// map[string]any and []any shapes the rest of the system works with.
func plain(v any) any {
	switch tv := v.(type) {
	case bson.D:
		out := make(map[string]any, len(tv))
		for _, e := range tv {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			out[k] = plain(child)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			out[k] = plain(child)
		}
		return out
	case bson.A:
		out := make([]any, len(tv))
		for i, child := range tv {
			out[i] = plain(child)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			out[i] = plain(child)
		}
		return out
	default:
		return v
	}
}
