package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/id"
)

func TestRecordModelRoundTrip(t *testing.T) {
	rec := &history.Record{
		ID:            id.NewDispatchID(),
		Seq:           1714564800000000,
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RoutePath:     "/webhook",
		Method:        "POST",
		RawPayload:    map[string]any{"a": 1},
		RenderedEvent: map[string]any{"event_type": "trade"},
		Outcomes: []history.Outcome{
			{TargetID: "t1", Status: history.StatusDelivered, AttemptID: id.NewAttemptID(), HTTPStatus: 200},
			{TargetID: "t2", Status: history.StatusSkipped, SkipReason: "disabled"},
		},
	}

	got, err := fromRecordModel(toRecordModel(rec))
	require.NoError(t, err)
	assert.Equal(t, rec.ID.String(), got.ID.String())
	assert.Equal(t, rec.Seq, got.Seq)
	assert.Equal(t, rec.Timestamp, got.Timestamp)
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, rec.Outcomes[0].AttemptID.String(), got.Outcomes[0].AttemptID.String())
	assert.True(t, got.Outcomes[1].AttemptID.IsNil())
	assert.Equal(t, "disabled", got.Outcomes[1].SkipReason)
}

func TestFromRecordModelBadID(t *testing.T) {
	_, err := fromRecordModel(&recordModel{ID: "nope"})
	assert.Error(t, err)
}

func TestPlain(t *testing.T) {
	in := bson.D{
		{Key: "a", Value: bson.A{int32(1), bson.D{{Key: "b", Value: "c"}}}},
		{Key: "m", Value: bson.M{"x": bson.D{{Key: "y", Value: true}}}},
	}

	got := plain(in)
	assert.Equal(t, map[string]any{
		"a": []any{int32(1), map[string]any{"b": "c"}},
		"m": map[string]any{"x": map[string]any{"y": true}},
	}, got)
	assert.Equal(t, "s", plain("s"))
}
