// Package dispatch runs the per-request pipeline: preprocess, template,
// then concurrent filter, format and delivery to every target of a route,
// followed by one history record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/forwarder/delivery"
	"github.com/xraph/forwarder/event"
	"github.com/xraph/forwarder/format"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/id"
	"github.com/xraph/forwarder/observability"
	"github.com/xraph/forwarder/preprocess"
	"github.com/xraph/forwarder/ratelimit"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/target"
)

// ErrTargetUnresolved is logged when a route names a target id that is not
// in the active configuration.
var ErrTargetUnresolved = errors.New("dispatch: target unresolved")

// errRateLimited is reported as the outcome error when a target's bucket is
// empty.
var errRateLimited = errors.New("rate limited")

// Sender delivers a formatted body to one target.
type Sender interface {
	Send(ctx context.Context, t *target.Target, body any) delivery.Result
}

// Snapshotter supplies the configuration snapshot read at the start of each
// dispatch. *registry.Registry implements it.
type Snapshotter interface {
	Snapshot() *registry.Snapshot
}

// Config holds dispatcher configuration.
type Config struct {
	// Concurrency bounds the number of in-flight deliveries per dispatch.
	Concurrency int

	// Async detaches fan-out from the inbound request. Dispatch then returns
	// as soon as the event is rendered, without outcomes.
	Async bool

	// RequestTimeout bounds each delivery unless the target overrides it.
	RequestTimeout time.Duration

	// AnnotateRoute adds a _route entry with path, method and receive time to
	// events that do not already carry one.
	AnnotateRoute bool

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    16,
		Async:          true,
		RequestTimeout: delivery.DefaultTimeout,
		AnnotateRoute:  true,
	}
}

// Result is returned by Dispatch.
type Result struct {
	Accepted bool              `json:"accepted"`
	RecordID id.ID             `json:"record_id"`
	Event    event.Event       `json:"event,omitempty"`
	Outcomes []history.Outcome `json:"outcomes,omitempty"`
}

// Dispatcher coordinates dispatches. It is safe for concurrent use.
type Dispatcher struct {
	registry Snapshotter
	history  history.Store
	sender   Sender
	limiter  *ratelimit.Limiter
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender replaces the HTTP sender.
func WithSender(s Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

// WithLimiter replaces the rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. hist may be nil, in which case no history is kept.
func New(reg Snapshotter, hist history.Store, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	d := &Dispatcher{
		registry: reg,
		history:  hist,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sender == nil {
		d.sender = delivery.NewSender(cfg.RequestTimeout)
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New()
	}
	return d
}

// Limiter returns the dispatcher's rate limiter.
func (d *Dispatcher) Limiter() *ratelimit.Limiter { return d.limiter }

// Wait blocks until every detached fan-out has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch handles one matched inbound request. The result is always
// accepted; delivery failures are only visible in the outcomes and history.
func (d *Dispatcher) Dispatch(ctx context.Context, r *route.Route, method string, raw any) Result {
	return d.dispatch(ctx, d.registry.Snapshot(), r, method, raw, d.config.Async)
}

// DispatchSnapshot is Dispatch against a snapshot the caller already holds,
// typically the one its route was matched in.
func (d *Dispatcher) DispatchSnapshot(ctx context.Context, snap *registry.Snapshot, r *route.Route, method string, raw any) Result {
	return d.dispatch(ctx, snap, r, method, raw, d.config.Async)
}

func (d *Dispatcher) dispatch(ctx context.Context, snap *registry.Snapshot, r *route.Route, method string, raw any, async bool) Result {
	now := d.now().UTC()
	if method == "" {
		method = http.MethodPost
	}

	evt := d.Render(snap, r, raw)
	if d.config.AnnotateRoute {
		if _, ok := evt[event.KeyRoute]; !ok {
			evt[event.KeyRoute] = map[string]any{
				"path":      r.Path,
				"method":    method,
				"timestamp": now.UnixMilli(),
			}
		}
	}

	rec := &history.Record{
		ID:            id.NewDispatchID(),
		Seq:           history.NextSeq(now),
		Timestamp:     now,
		RoutePath:     r.Path,
		Method:        method,
		RawPayload:    raw,
		RenderedEvent: evt,
	}
	targets := d.resolve(ctx, snap, r)
	d.config.Metrics.RecordDispatch(r.Path)

	res := Result{Accepted: true, RecordID: rec.ID, Event: evt}
	if async {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.fanOut(context.WithoutCancel(ctx), rec, targets, true)
		}()
		return res
	}

	res.Outcomes = d.fanOut(ctx, rec, targets, true)
	return res
}

// Render runs preprocessing and templating for r and applies the event_type
// fallback chain: template, payload, route, then "unknown".
func (d *Dispatcher) Render(snap *registry.Snapshot, r *route.Route, raw any) event.Event {
	payload := preprocess.Apply(raw, r.Preprocess, d.logger)

	var evt event.Event
	if r.Template != "" {
		if tpl, ok := snap.Template(r.Template); ok {
			evt = tpl.Apply(payload)
		} else {
			d.logger.Warn("template not found, using payload",
				"route", r.Path, "template", r.Template)
		}
	}
	if evt == nil {
		evt = event.Event(payload)
	}

	if evt.Type() == "" {
		switch {
		case event.Event(payload).Type() != "":
			evt[event.KeyEventType] = event.Event(payload).Type()
		case r.EventType != "":
			evt[event.KeyEventType] = r.EventType
		default:
			evt[event.KeyEventType] = event.TypeUnknown
		}
	}
	return evt
}

// resolve maps the route's target ids onto the snapshot, dropping and
// logging unknown ids.
func (d *Dispatcher) resolve(ctx context.Context, snap *registry.Snapshot, r *route.Route) []*target.Target {
	out := make([]*target.Target, 0, len(r.TargetIDs))
	for _, tid := range r.TargetIDs {
		t, ok := snap.Target(tid)
		if !ok {
			d.logger.WarnContext(ctx, "skipping target",
				"route", r.Path, "target_id", tid, "error", ErrTargetUnresolved)
			continue
		}
		out = append(out, t)
	}
	return out
}

// fanOut delivers evt to every target concurrently, appends the history
// record and returns the outcomes in target order.
func (d *Dispatcher) fanOut(ctx context.Context, rec *history.Record, targets []*target.Target, filter bool) []history.Outcome {
	if d.config.Tracer != nil {
		var span trace.Span
		ctx, span = d.config.Tracer.StartDispatchSpan(ctx, rec.ID.String(), rec.RoutePath)
		defer span.End()
	}

	evt := event.Event(rec.RenderedEvent)
	outcomes := make([]history.Outcome, len(targets))
	sem := make(chan struct{}, d.config.Concurrency)

	var wg sync.WaitGroup
	for i, t := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = d.deliver(ctx, t, evt, filter)
		}()
	}
	wg.Wait()

	rec.Outcomes = outcomes
	delivered, failed, skipped := rec.Counts()
	d.logger.InfoContext(ctx, "dispatched",
		"record_id", rec.ID, "route", rec.RoutePath, "event_type", evt.Type(),
		"delivered", delivered, "failed", failed, "skipped", skipped)

	if d.history != nil {
		if err := d.history.Append(ctx, rec); err != nil {
			d.logger.ErrorContext(ctx, "append history failed",
				"record_id", rec.ID, "error", err)
		}
	}
	return outcomes
}

// deliver runs filter, rate limit, format and send for one target. Panics
// are recovered into a failed outcome.
func (d *Dispatcher) deliver(ctx context.Context, t *target.Target, evt event.Event, filter bool) (out history.Outcome) {
	out = history.Outcome{TargetID: t.ID, TargetName: t.Name}

	if filter {
		if ok, reason := target.Eligible(evt, t); !ok {
			out.Status = history.StatusSkipped
			out.SkipReason = string(reason)
			d.config.Metrics.RecordDelivery(t.ID, string(out.Status), 0, false)
			return out
		}
	}

	out.AttemptID = id.NewAttemptID()
	defer func() {
		if p := recover(); p != nil {
			out.Status = history.StatusFailed
			out.Error = fmt.Sprintf("panic: %v", p)
			d.logger.ErrorContext(ctx, "delivery panicked",
				"target_id", t.ID, "attempt_id", out.AttemptID, "error", out.Error)
			d.config.Metrics.RecordDelivery(t.ID, string(out.Status), 0, false)
		}
	}()

	if !d.limiter.Allow(t.ID, t.RateLimit) {
		return d.fail(ctx, t, out, errRateLimited.Error())
	}

	body, err := format.Format(evt, t)
	if err != nil {
		return d.fail(ctx, t, out, fmt.Sprintf("format: %v", err))
	}

	var span trace.Span
	if d.config.Tracer != nil {
		ctx, span = d.config.Tracer.StartDeliverySpan(ctx, out.AttemptID.String(), t.ID, string(t.Type))
	}

	res := d.sender.Send(ctx, t, body)
	if span != nil {
		d.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}

	out.HTTPStatus = res.StatusCode
	out.LatencyMs = res.LatencyMs
	latencySeconds := float64(res.LatencyMs) / 1000.0

	if !res.OK() {
		out.Status = history.StatusFailed
		out.Error = res.Error
		d.logger.WarnContext(ctx, "delivery failed",
			"target_id", t.ID, "status", res.StatusCode, "error", res.Error, "latency_ms", res.LatencyMs)
		d.config.Metrics.RecordDelivery(t.ID, string(out.Status), latencySeconds, true)
		return out
	}

	out.Status = history.StatusDelivered
	d.logger.DebugContext(ctx, "delivered",
		"target_id", t.ID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	d.config.Metrics.RecordDelivery(t.ID, string(out.Status), latencySeconds, true)
	return out
}

func (d *Dispatcher) fail(ctx context.Context, t *target.Target, out history.Outcome, msg string) history.Outcome {
	out.Status = history.StatusFailed
	out.Error = msg
	d.logger.WarnContext(ctx, "delivery failed", "target_id", t.ID, "error", msg)
	d.config.Metrics.RecordDelivery(t.ID, string(out.Status), 0, false)
	return out
}
