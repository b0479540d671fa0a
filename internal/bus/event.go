package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the chat stores and transport. Subscribers
// filter by namespace prefix ("thread.", "message.", "typing.",
// "conn.", "ui.").
const (
	KindThreadSynced   = "thread.synced"    // []api.Thread, full refetch
	KindThreadUpserted = "thread.upserted"  // api.Thread
	KindThreadsChanged = "thread.changed"   // nil, ordering or snapshot mutation
	KindMessageSynced  = "message.synced"   // MessagesSynced
	KindMessagesChange = "message.changed"  // nil, in-memory list mutation
	KindMessageUpsert  = "message.upserted" // api.Message
	KindMessageDeleted = "message.deleted"  // MessageDeleted
	KindMessageRead    = "message.read"     // api.ReadReceipt
	KindMessageAck     = "message.send_ack" // MessageAck
	KindTypingChanged  = "typing.changed"   // []chat.TypingUser
	KindConnStatus     = "conn.status_changed"
	KindUIError        = "ui.error" // string, user-facing toast text
	KindUIInfo         = "ui.info"  // string
)
