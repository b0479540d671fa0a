package chat

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"leaguechat/internal/api"
	"leaguechat/internal/bus"
	"leaguechat/internal/transport"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message has been deleted"

// messageAPI is the slice of the REST client the message store needs.
type messageAPI interface {
	Messages(ctx context.Context, threadID string) ([]api.Message, error)
	SendMessage(ctx context.Context, threadID string, req api.SendMessageRequest) (*api.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, messageID string) error
}

// MessageStore holds the messages of the active thread and keeps them
// reconciled with realtime events. Mutations are optimistic: the local
// list changes first and is rolled back if the request fails.
type MessageStore struct {
	api       messageAPI
	transport transport.Transport
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	threadID string
	messages []api.Message
	// joinedRoom tracks the room this client is actually in. It is
	// kept separate from threadID so leave/join pairs stay correct
	// across rapid thread switches.
	joinedRoom string
	// fetchGen invalidates in-flight fetches when the active thread
	// changes; a stale response for a superseded thread is discarded.
	fetchGen int
	offs     []func()
}

// NewMessageStore creates a message store with no active thread.
func NewMessageStore(client messageAPI, tr transport.Transport, b *bus.Bus, logger *zap.Logger) *MessageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageStore{
		api:       client,
		transport: tr,
		bus:       b,
		logger:    logger,
	}
}

// Bind subscribes the store to realtime message events. Call Close to
// remove the subscriptions and leave the joined room.
func (s *MessageStore) Bind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offs) > 0 {
		return
	}
	s.offs = []func(){
		s.transport.On(transport.EventNewMessage, s.onNewMessage),
		s.transport.On(transport.EventMessageDeleted, s.onMessageDeleted),
		s.transport.On(transport.EventMessageSent, s.onMessageSent),
		s.transport.On(transport.EventMessageRead, s.onMessageRead),
	}
}

// Close removes subscriptions and leaves the current room.
func (s *MessageStore) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	room := s.joinedRoom
	s.joinedRoom = ""
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if room != "" {
		if err := s.transport.LeaveRoom(room); err != nil {
			s.logger.Warn("leave room failed", zap.String("room", room), zap.Error(err))
		}
	}
}

// SetActiveThread switches the store to a new thread: leaves the old
// room, joins the new one (in that order), and fetches its messages.
// An empty thread id clears local state without a network call.
func (s *MessageStore) SetActiveThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	if threadID == s.threadID {
		s.mu.Unlock()
		return nil
	}
	prevRoom := s.joinedRoom
	s.threadID = threadID
	s.joinedRoom = threadID
	s.fetchGen++
	gen := s.fetchGen
	if threadID == "" {
		s.messages = nil
	}
	s.mu.Unlock()

	if prevRoom != "" && prevRoom != threadID {
		if err := s.transport.LeaveRoom(prevRoom); err != nil {
			s.logger.Warn("leave room failed", zap.String("room", prevRoom), zap.Error(err))
		}
	}
	if threadID == "" {
		s.publish(bus.KindMessageSynced, MessagesSynced{})
		return nil
	}
	if err := s.transport.JoinRoom(threadID); err != nil {
		s.logger.Warn("join room failed", zap.String("room", threadID), zap.Error(err))
	}

	return s.fetch(ctx, threadID, gen)
}

// Fetch reloads the active thread's messages.
func (s *MessageStore) Fetch(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	s.fetchGen++
	gen := s.fetchGen
	if threadID == "" {
		s.messages = nil
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.fetch(ctx, threadID, gen)
}

func (s *MessageStore) fetch(ctx context.Context, threadID string, gen int) error {
	msgs, err := s.api.Messages(ctx, threadID)

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale fetch", zap.String("thread_id", threadID))
		return nil
	}
	if err != nil {
		s.messages = nil
		s.mu.Unlock()
		s.logger.Error("fetch messages failed", zap.String("thread_id", threadID), zap.Error(err))
		s.publish(bus.KindUIError, "failed to load messages")
		return err
	}
	s.messages = msgs
	s.mu.Unlock()

	s.publish(bus.KindMessageSynced, MessagesSynced{ThreadID: threadID, Messages: slices.Clone(msgs)})
	return nil
}

// ActiveThread returns the current thread id ("" when none).
func (s *MessageStore) ActiveThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns a copy of the active thread's message list.
func (s *MessageStore) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Send posts a message to the active thread and appends the
// server-assigned message to local state. No-op without an active
// thread. On failure the error is published and returned so callers
// can react (e.g. restore a composer field).
func (s *MessageStore) Send(ctx context.Context, content, senderID, repliesToID string) (*api.Message, error) {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()
	if threadID == "" {
		return nil, nil
	}

	msg, err := s.api.SendMessage(ctx, threadID, api.SendMessageRequest{
		SenderID:    senderID,
		Content:     content,
		RepliesToID: repliesToID,
	})
	if err != nil {
		s.logger.Error("send message failed", zap.String("thread_id", threadID), zap.Error(err))
		s.publish(bus.KindUIError, "failed to send message")
		return nil, err
	}

	s.mu.Lock()
	appended := false
	if s.threadID == threadID && s.indexLocked(msg.ID) < 0 {
		s.messages = append(s.messages, *msg)
		appended = true
	}
	s.mu.Unlock()

	if appended {
		s.publish(bus.KindMessageUpsert, *msg)
		s.publish(bus.KindMessagesChange, nil)
	}
	return msg, nil
}

// Delete soft-deletes a message. The tombstone is applied locally
// before the request; a failed request restores the exact prior list.
// Ids not present in the local list are a no-op.
func (s *MessageStore) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	threadID := s.threadID
	idx := s.indexLocked(messageID)
	if threadID == "" || idx < 0 {
		s.mu.Unlock()
		return nil
	}
	// Snapshot current state; apply the speculative mutation; restore
	// the snapshot if the request fails.
	snapshot := slices.Clone(s.messages)
	now := time.Now()
	tombstone(&s.messages[idx], now)
	s.mu.Unlock()
	s.publish(bus.KindMessagesChange, nil)

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		s.mu.Lock()
		if s.threadID == threadID {
			s.messages = snapshot
		}
		s.mu.Unlock()
		s.logger.Error("delete message failed", zap.String("message_id", messageID), zap.Error(err))
		s.publish(bus.KindMessagesChange, nil)
		s.publish(bus.KindUIError, "failed to delete message")
		return err
	}

	s.publish(bus.KindMessageDeleted, MessageDeleted{MessageID: messageID, ThreadID: threadID, DeletedAt: now})
	s.publish(bus.KindUIInfo, "message deleted")
	return nil
}

// MarkRead records a read receipt for a message. Best-effort: failures
// are swallowed so read receipts never block the UI.
func (s *MessageStore) MarkRead(ctx context.Context, messageID string) {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()
	if threadID == "" {
		return
	}
	if err := s.api.MarkRead(ctx, messageID); err != nil {
		s.logger.Debug("mark read failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (s *MessageStore) onNewMessage(data json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed new_message event", zap.Error(err))
		return
	}

	s.mu.Lock()
	if msg.ThreadID != s.threadID || s.indexLocked(msg.ID) >= 0 {
		// Not ours, or the sender's own optimistic append already
		// holds it.
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.publish(bus.KindMessageUpsert, msg)
	s.publish(bus.KindMessagesChange, nil)
}

func (s *MessageStore) onMessageDeleted(data json.RawMessage) {
	var evt transport.MessageDeletedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed message_deleted event", zap.Error(err))
		return
	}

	s.mu.Lock()
	if evt.ThreadID != s.threadID {
		s.mu.Unlock()
		return
	}
	idx := s.indexLocked(evt.MessageID)
	now := time.Now()
	if idx >= 0 {
		tombstone(&s.messages[idx], now)
	}
	s.mu.Unlock()
	if idx < 0 {
		return
	}

	s.publish(bus.KindMessageDeleted, MessageDeleted{MessageID: evt.MessageID, ThreadID: evt.ThreadID, DeletedAt: now})
	s.publish(bus.KindMessagesChange, nil)
}

func (s *MessageStore) onMessageSent(data json.RawMessage) {
	var evt transport.MessageSentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed message_sent event", zap.Error(err))
		return
	}
	// Delivery ack only; the visible list is not touched.
	s.publish(bus.KindMessageAck, MessageAck{MessageID: evt.MessageID, ThreadID: evt.ThreadID})
}

func (s *MessageStore) onMessageRead(data json.RawMessage) {
	var evt transport.MessageReadEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed message_read event", zap.Error(err))
		return
	}

	s.mu.Lock()
	if evt.ThreadID != s.threadID {
		s.mu.Unlock()
		return
	}
	idx := s.indexLocked(evt.MessageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	receipt := api.ReadReceipt{
		ID:         evt.MessageID + ":" + evt.ReaderID,
		MessageID:  evt.MessageID,
		ReaderID:   evt.ReaderID,
		ReaderName: evt.ReaderName,
		ReadAt:     time.Now(),
	}
	// Clone before append so receipt slices shared with snapshots are
	// never mutated in place.
	s.messages[idx].ReadReceipts = append(slices.Clone(s.messages[idx].ReadReceipts), receipt)
	s.mu.Unlock()

	s.publish(bus.KindMessageRead, receipt)
	s.publish(bus.KindMessagesChange, nil)
}

func (s *MessageStore) indexLocked(messageID string) int {
	return slices.IndexFunc(s.messages, func(m api.Message) bool { return m.ID == messageID })
}

func (s *MessageStore) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func tombstone(m *api.Message, at time.Time) {
	t := at
	m.IsDeleted = true
	m.DeletedAt = &t
	m.Content = DeletedPlaceholder
}
