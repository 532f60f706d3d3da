package bus

import "time"

// Event is a domain event published on the bus.
//
// Kind namespaces in use:
//
//	store.*    replica rows changed (store.post_upserted, store.comment_remapped, ...)
//	sync.*     outbound/inbound sync progress (sync.kind_done, sync.dead_letter, ...)
//	realtime.* channel lifecycle (realtime.connected, realtime.disconnected)
//	session.*  daemon/session state (session.status_changed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
