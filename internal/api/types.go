package api

import "time"

// Thread represents a conversation between two or more users. Messages
// holds the latest-message snapshot the server embeds in thread lists
// (at most one element).
type Thread struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"isGroup"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LastMessage returns the embedded latest-message snapshot, or nil.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return &t.Messages[len(t.Messages)-1]
}

// Message represents a single chat message. Deleted messages are kept
// as tombstones: IsDeleted set, DeletedAt stamped, Content replaced.
type Message struct {
	ID           string        `json:"id"`
	ThreadID     string        `json:"threadId"`
	SenderID     string        `json:"senderId"`
	Content      string        `json:"content"`
	RepliesToID  string        `json:"repliesToId,omitempty"`
	IsDeleted    bool          `json:"isDeleted"`
	DeletedAt    *time.Time    `json:"deletedAt,omitempty"`
	ReadReceipts []ReadReceipt `json:"readReceipts"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	ReaderID   string    `json:"readerId"`
	ReaderName string    `json:"readerName"`
	ReadAt     time.Time `json:"readAt"`
}

// User is a chat participant as returned by the contacts and members endpoints.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SendMessageRequest is the body for posting a new message to a thread.
type SendMessageRequest struct {
	SenderID    string `json:"senderId"`
	Content     string `json:"content"`
	RepliesToID string `json:"repliesToId,omitempty"`
}

// CreateThreadRequest is the body for creating a new thread.
type CreateThreadRequest struct {
	Name      string   `json:"name,omitempty"`
	IsGroup   bool     `json:"isGroup"`
	UserIDs   []string `json:"userIds"`
	CreatedBy string   `json:"createdBy"`
}
