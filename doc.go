// Package forwarder receives webhooks on configured paths and relays
// reshaped, per-destination copies of each event to chat and notification
// endpoints.
//
// Every inbound request is matched to a route, preprocessed (field mapping,
// type coercion, field selection), optionally rendered through a template,
// then fanned out concurrently to the route's targets. Each target is
// filtered by event type and symbol, formatted for its platform (WeChat,
// Feishu, DingTalk, Discord, WeChat personal or a custom JSON hook) and
// delivered once with a bounded timeout. One history record summarizes the
// dispatch.
//
// Quick start:
//
//	f, err := forwarder.New(
//	    forwarder.WithStore(memory.New(100)),
//	    forwarder.WithConfigFile("hookrelay.yaml", true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := f.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Stop(context.Background())
//
//	http.ListenAndServe(":8000", f.Handler())
package forwarder
