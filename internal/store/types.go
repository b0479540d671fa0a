package store

// Thread is a cached conversation.
type Thread struct {
	ID                 string
	Name               string
	IsGroup            bool
	LastMessagePreview string
	UpdatedAt          int64
}

// Message is a cached message. Timestamps are unix milliseconds.
type Message struct {
	ID          int64
	MsgID       string
	ThreadID    string
	SenderID    string
	Content     string
	RepliesToID string
	IsDeleted   bool
	DeletedAt   int64
	CreatedAt   int64
}

// Receipt is a cached read receipt.
type Receipt struct {
	ID         string
	MessageID  string
	ReaderID   string
	ReaderName string
	ReadAt     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
