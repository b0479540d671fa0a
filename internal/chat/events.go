package chat

import (
	"time"

	"leaguechat/internal/api"
)

// MessagesSynced is the bus payload published after a full message
// fetch for a thread. An empty ThreadID means the store was cleared.
type MessagesSynced struct {
	ThreadID string
	Messages []api.Message
}

// MessageDeleted is the bus payload published when a message is
// confirmed deleted (locally or by a remote participant).
type MessageDeleted struct {
	MessageID string
	ThreadID  string
	DeletedAt time.Time
}

// MessageAck is the bus payload for a message_sent delivery ack.
type MessageAck struct {
	MessageID string
	ThreadID  string
}
