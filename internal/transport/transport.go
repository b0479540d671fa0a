package transport

import (
	"context"
	"encoding/json"

	"leaguechat/internal/api"
)

// Events delivered by the realtime server.
const (
	EventNewThread      = "new_thread"
	EventThreadUpdated  = "thread_updated"
	EventNewMessage     = "new_message"
	EventMessageDeleted = "message_deleted"
	EventMessageSent    = "message_sent"
	EventMessageRead    = "message_read"
	EventTypingStatus   = "typing_status"
)

// Events emitted by the client.
const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
)

// Handler processes the raw payload of one realtime event. Handlers
// run synchronously on the read loop; they must not block.
type Handler func(data json.RawMessage)

// Transport is the realtime capability injected into the chat stores:
// a connection with room membership and event pub/sub. The concrete
// implementation is Socket; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	On(event string, h Handler) (off func())
	Emit(event string, payload any) error
	JoinRoom(threadID string) error
	LeaveRoom(threadID string) error
}

// NewThreadEvent is the payload of new_thread.
type NewThreadEvent struct {
	Thread api.Thread `json:"thread"`
}

// ThreadUpdatedEvent is the payload of thread_updated.
type ThreadUpdatedEvent struct {
	ThreadID    string      `json:"threadId"`
	LastMessage api.Message `json:"lastMessage"`
}

// MessageDeletedEvent is the payload of message_deleted.
type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// MessageSentEvent is the payload of the message_sent delivery ack.
type MessageSentEvent struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// MessageReadEvent is the payload of message_read.
type MessageReadEvent struct {
	MessageID  string `json:"messageId"`
	ThreadID   string `json:"threadId"`
	ReaderID   string `json:"readerId"`
	ReaderName string `json:"readerName"`
}

// TypingStatusEvent is the payload of typing_status, both inbound and
// outbound.
type TypingStatusEvent struct {
	ThreadID   string `json:"threadId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

// RoomPayload is the payload of join_room / leave_room.
type RoomPayload struct {
	Room string `json:"room"`
}
