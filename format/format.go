// Package format turns a canonical event into the outbound body for one
// target.
package format

import (
	"errors"
	"strconv"
	"time"

	"github.com/xraph/forwarder/event"
	"github.com/xraph/forwarder/signature"
	"github.com/xraph/forwarder/target"
	"github.com/xraph/forwarder/template"
)

// DefaultKey is the text format entry used when no entry matches the event
// type.
const DefaultKey = "default"

// ErrEmptyTemplate is returned for template-mode targets without a format.
var ErrEmptyTemplate = errors.New("format: template target has no format")

// Format builds the outbound body for t.
func Format(evt event.Event, t *target.Target) (any, error) {
	return FormatAt(evt, t, time.Now())
}

// FormatAt is Format with an explicit clock for body signatures.
func FormatAt(evt event.Event, t *target.Target, now time.Time) (any, error) {
	var body any
	switch t.Mode() {
	case target.FormatTemplate:
		if len(t.Format) == 0 {
			return nil, ErrEmptyTemplate
		}
		body = template.Render(t.Format, renderContext(evt))
	default:
		body = envelope(t, evt, Text(evt, t))
	}

	if t.Type == target.TypeFeishu && t.Secret != "" {
		if m, ok := body.(map[string]any); ok {
			ts := now.Unix()
			m["timestamp"] = strconv.FormatInt(ts, 10)
			m["sign"] = signature.Feishu(ts, t.Secret)
		}
	}
	return body, nil
}

// Text renders the text-mode message for evt. The entry keyed by the event
// type wins, then the default entry, then the event description, then the
// compact JSON encoding of the event.
func Text(evt event.Event, t *target.Target) string {
	tmpl, ok := textEntry(t, evt.Type())
	if !ok {
		tmpl, ok = textEntry(t, DefaultKey)
	}
	if !ok {
		if desc := evt.Description(); desc != "" {
			return desc
		}
		return evt.JSON()
	}
	return template.RenderString(tmpl, renderContext(evt))
}

func textEntry(t *target.Target, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s, ok := t.Format[key].(string)
	return s, ok && s != ""
}

func envelope(t *target.Target, evt event.Event, text string) any {
	switch t.Type {
	case target.TypeWeChat, target.TypeDingTalk:
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]any{"content": text},
		}
	case target.TypeFeishu:
		return map[string]any{
			"msg_type": "text",
			"content":  map[string]any{"text": text},
		}
	case target.TypeWeChatPersonal:
		return map[string]any{
			"type": "sendText",
			"data": map[string]any{"wxid": t.WXID, "msg": text},
		}
	case target.TypeDiscord:
		return map[string]any{"content": text}
	default:
		if len(t.Format) == 0 {
			return map[string]any(evt.Clone())
		}
		return map[string]any{"text": text}
	}
}

// renderContext is the flattened event fields plus the composite top-level
// values, so dotted placeholders such as {data.side} still resolve.
func renderContext(evt event.Event) map[string]any {
	ctx := evt.Fields()
	for k, v := range evt {
		if _, ok := ctx[k]; !ok {
			ctx[k] = v
		}
	}
	return ctx
}
