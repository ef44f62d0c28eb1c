package proxy

import (
	"github.com/swordli/mitmproxy/pkg/flow"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
)

// killSentinel is the unexported type behind the KILL reply value, so
// it can't be constructed or mistaken for any other type by callers.
type killSentinel struct{}

// KILL is the sentinel reply meaning "drop the connection", returned
// by a Channel.Ask implementation instead of nil when the inspector
// wants the flow terminated rather than passed through unmodified.
var KILL = &killSentinel{}

// Topic names the inspector interaction point. Per the single
// canonical payload shape this engine settled on (see docs), every
// topic always carries the whole flow, never just the child.
type Topic string

const (
	TopicRequest  Topic = "request"
	TopicResponse Topic = "response"
	TopicError    Topic = "error"
)

// Channel is the inspector's synchronous interaction point. Ask blocks
// until the inspector replies. Every topic always carries the whole
// flow (the single canonical payload shape this engine settled on).
// The reply is one of:
//   - nil: proceed with f unmodified.
//   - KILL: drop the connection.
//   - *flow.Flow: a possibly-mutated version of f to continue with;
//     if it already carries a Response (TopicRequest only), that
//     response is used as the reply without contacting the server.
//   - *httpmsg.Response: attach it to f as the short-circuit (for
//     TopicRequest) or replacement (for TopicResponse) response,
//     without requiring the inspector to round-trip the whole flow.
//
// Channel implementations are responsible for serializing concurrent
// Ask calls from different flows if the underlying inspector requires
// it; the engine never holds a lock across the call.
type Channel interface {
	Ask(topic Topic, f *flow.Flow) interface{}
}

// NopChannel passes every flow through unmodified; used when no
// inspector is wired (a bare forwarding proxy).
type NopChannel struct{}

func (NopChannel) Ask(Topic, *flow.Flow) interface{} { return nil }
