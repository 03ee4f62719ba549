// Package history defines the record written once per dispatch and the
// store contract that keeps a bounded, newest-first log of them.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/forwarder/id"
)

// DefaultCapacity is the number of records kept when a store is created
// without an explicit bound.
const DefaultCapacity = 100

// Status is the outcome of one target within a dispatch.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome records what happened for one target.
type Outcome struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name,omitempty"`
	Status     Status `json:"status"`

	// AttemptID is set for delivered and failed outcomes.
	AttemptID  id.ID  `json:"attempt_id,omitzero"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int    `json:"latency_ms,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// Record summarizes one dispatch.
type Record struct {
	ID id.ID `json:"id"`

	// Seq is the arrival sequence. Stores order and evict by it, so a record
	// appended late by a slow dispatch still sorts by when it arrived.
	Seq int64 `json:"seq"`

	Timestamp     time.Time      `json:"timestamp"`
	RoutePath     string         `json:"route_path"`
	Method        string         `json:"method,omitempty"`
	RawPayload    any            `json:"raw_payload"`
	RenderedEvent map[string]any `json:"rendered_event"`
	Outcomes      []Outcome      `json:"outcomes"`
}

// EnsureSeq assigns an arrival sequence from the current time if r has none.
func (r *Record) EnsureSeq() {
	if r.Seq == 0 {
		r.Seq = NextSeq(time.Now())
	}
}

var seq struct {
	mu   sync.Mutex
	last int64
}

// NextSeq returns the arrival sequence for a request received at now. Values
// are microseconds since the Unix epoch, bumped past the previous value when
// two arrivals share a tick, so they increase strictly within a process and
// across restarts as long as the clock does not step back. They stay below
// 2^53 and survive a round trip through float64 scores.
func NextSeq(now time.Time) int64 {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	n := now.UnixMicro()
	if n <= seq.last {
		n = seq.last + 1
	}
	seq.last = n
	return n
}

// Counts returns the number of outcomes per status.
func (r *Record) Counts() (delivered, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusDelivered:
			delivered++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return delivered, failed, skipped
}

// Store is the history collaborator. Implementations serialize appends,
// order records by Seq and evict the lowest Seq once their capacity is
// reached.
type Store interface {
	// Append adds rec, assigning a Seq first if it has none.
	Append(ctx context.Context, rec *Record) error

	// List returns up to limit records, highest Seq first. limit <= 0
	// returns every retained record.
	List(ctx context.Context, limit int) ([]*Record, error)
}
