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

// threadAPI is the slice of the REST client the thread store needs.
type threadAPI interface {
	Threads(ctx context.Context, userID string) ([]api.Thread, error)
}

// ThreadStore holds one user's thread list ordered by recency and
// reconciles realtime events into it. The front of the list is always
// the thread with the most recent activity.
type ThreadStore struct {
	api       threadAPI
	transport transport.Transport
	bus       *bus.Bus
	logger    *zap.Logger

	mu      sync.Mutex
	userID  string
	threads []api.Thread
	lastErr string
	offs    []func()
}

// NewThreadStore creates a thread store for the given user.
func NewThreadStore(client threadAPI, tr transport.Transport, b *bus.Bus, logger *zap.Logger, userID string) *ThreadStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadStore{
		api:       client,
		transport: tr,
		bus:       b,
		logger:    logger,
		userID:    userID,
	}
}

// Bind subscribes the store to realtime thread events. Call Close to
// remove the subscriptions.
func (s *ThreadStore) Bind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offs) > 0 {
		return
	}
	s.offs = []func(){
		s.transport.On(transport.EventNewThread, s.onNewThread),
		s.transport.On(transport.EventThreadUpdated, s.onThreadUpdated),
		s.transport.On(transport.EventNewMessage, s.onNewMessage),
	}
}

// Close removes all realtime subscriptions.
func (s *ThreadStore) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Fetch loads the thread list from the API. On failure the list is
// reset to empty, a user-facing error is published, and the error is
// returned.
func (s *ThreadStore) Fetch(ctx context.Context) ([]api.Thread, error) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		s.mu.Lock()
		s.threads = nil
		s.mu.Unlock()
		return nil, nil
	}

	threads, err := s.api.Threads(ctx, userID)
	if err != nil {
		s.mu.Lock()
		s.threads = nil
		s.lastErr = "failed to load conversations"
		s.mu.Unlock()
		s.logger.Error("fetch threads failed", zap.String("user_id", userID), zap.Error(err))
		s.publish(bus.KindUIError, "failed to load conversations")
		s.publish(bus.KindThreadsChanged, nil)
		return nil, err
	}

	s.mu.Lock()
	s.threads = threads
	s.lastErr = ""
	s.mu.Unlock()
	s.publish(bus.KindThreadSynced, slices.Clone(threads))
	s.publish(bus.KindThreadsChanged, nil)
	return threads, nil
}

// SetUser changes the subject user and refetches when it differs.
func (s *ThreadStore) SetUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	if userID == s.userID {
		s.mu.Unlock()
		return nil
	}
	s.userID = userID
	s.mu.Unlock()
	_, err := s.Fetch(ctx)
	return err
}

// Threads returns a copy of the current thread list.
func (s *ThreadStore) Threads() []api.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.threads)
}

// LastError returns the user-facing error from the most recent failed
// fetch, or "".
func (s *ThreadStore) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// UpdateLastMessage rewrites a thread's last-message snapshot and
// moves it to the front. No-op when the thread is absent.
func (s *ThreadStore) UpdateLastMessage(threadID string, msg api.Message) {
	s.mu.Lock()
	idx := s.indexLocked(threadID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	t := s.threads[idx]
	t.Messages = []api.Message{msg}
	t.UpdatedAt = time.Now()
	s.threads = append([]api.Thread{t}, slices.Delete(slices.Clone(s.threads), idx, idx+1)...)
	s.mu.Unlock()

	s.publish(bus.KindThreadUpserted, t)
	s.publish(bus.KindThreadsChanged, nil)
}

// AddOptimistic prepends a thread if its id is not already present.
// Idempotent.
func (s *ThreadStore) AddOptimistic(t api.Thread) {
	s.mu.Lock()
	if s.indexLocked(t.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.threads = append([]api.Thread{t}, s.threads...)
	s.mu.Unlock()

	s.publish(bus.KindThreadUpserted, t)
	s.publish(bus.KindThreadsChanged, nil)
}

func (s *ThreadStore) onNewThread(data json.RawMessage) {
	var evt transport.NewThreadEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed new_thread event", zap.Error(err))
		return
	}
	s.AddOptimistic(evt.Thread)
}

func (s *ThreadStore) onThreadUpdated(data json.RawMessage) {
	var evt transport.ThreadUpdatedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed thread_updated event", zap.Error(err))
		return
	}

	s.mu.Lock()
	idx := s.indexLocked(evt.ThreadID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	// Rewrite in place: an update does not change ordering.
	s.threads[idx].Messages = []api.Message{evt.LastMessage}
	s.threads[idx].UpdatedAt = time.Now()
	t := s.threads[idx]
	s.mu.Unlock()

	s.publish(bus.KindThreadUpserted, t)
	s.publish(bus.KindThreadsChanged, nil)
}

func (s *ThreadStore) onNewMessage(data json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed new_message event", zap.Error(err))
		return
	}
	// Threads not in the local list are ignored; the next full fetch
	// picks them up.
	s.UpdateLastMessage(msg.ThreadID, msg)
}

func (s *ThreadStore) indexLocked(threadID string) int {
	return slices.IndexFunc(s.threads, func(t api.Thread) bool { return t.ID == threadID })
}

func (s *ThreadStore) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
