package chat

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"leaguechat/internal/bus"
	"leaguechat/internal/transport"
)

// typingStopDelay is how long after the last keystroke this client
// keeps broadcasting its own typing status before auto-stopping.
const typingStopDelay = 3 * time.Second

// TypingUser is one remote participant currently typing in the active
// thread.
type TypingUser struct {
	UserID      string
	DisplayName string
}

// Tracker maintains the ephemeral per-thread typing state: who else is
// typing here, and whether this client is broadcasting its own typing
// status.
type Tracker struct {
	transport transport.Transport
	bus       *bus.Bus
	logger    *zap.Logger
	selfID    string

	mu       sync.Mutex
	threadID string
	users    []TypingUser
	timer    *time.Timer
	timerGen int
	delay    time.Duration
	off      func()
}

// NewTracker creates a typing tracker for the local user.
func NewTracker(tr transport.Transport, b *bus.Bus, logger *zap.Logger, selfID string) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		transport: tr,
		bus:       b,
		logger:    logger,
		selfID:    selfID,
		delay:     typingStopDelay,
	}
}

// Bind subscribes to typing_status events.
func (t *Tracker) Bind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.off != nil {
		return
	}
	t.off = t.transport.On(transport.EventTypingStatus, t.onTypingStatus)
}

// Close removes the subscription and clears all state.
func (t *Tracker) Close() {
	t.mu.Lock()
	off := t.off
	t.off = nil
	t.stopTimerLocked()
	t.users = nil
	t.threadID = ""
	t.mu.Unlock()
	if off != nil {
		off()
	}
}

// SetActiveThread scopes the tracker to a new thread. Any pending
// auto-stop timer is cancelled and the typing-user list is reset so no
// stale indicators leak across threads.
func (t *Tracker) SetActiveThread(threadID string) {
	t.mu.Lock()
	if threadID == t.threadID {
		t.mu.Unlock()
		return
	}
	t.stopTimerLocked()
	t.threadID = threadID
	t.users = nil
	t.mu.Unlock()
	t.publishUsers(nil)
}

// SetTyping broadcasts this client's typing status for the active
// thread. Starting (re)arms an auto-stop timer; stopping cancels it.
// No-op without an active thread.
func (t *Tracker) SetTyping(isTyping bool) error {
	t.mu.Lock()
	threadID := t.threadID
	if threadID == "" {
		t.mu.Unlock()
		return nil
	}
	if isTyping {
		t.stopTimerLocked()
		t.timerGen++
		gen := t.timerGen
		t.timer = time.AfterFunc(t.delay, func() { t.autoStop(threadID, gen) })
	} else {
		t.stopTimerLocked()
	}
	t.mu.Unlock()

	return t.transport.Emit(transport.EventTypingStatus, transport.TypingStatusEvent{
		ThreadID: threadID,
		SenderID: t.selfID,
		IsTyping: isTyping,
	})
}

// Users returns a copy of the remote users currently typing.
func (t *Tracker) Users() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.users)
}

// autoStop fires when the auto-stop timer expires without an explicit
// stop or a new start. The generation check discards firings that lost
// a race with SetTyping.
func (t *Tracker) autoStop(threadID string, gen int) {
	t.mu.Lock()
	if t.threadID != threadID || t.timerGen != gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	if err := t.transport.Emit(transport.EventTypingStatus, transport.TypingStatusEvent{
		ThreadID: threadID,
		SenderID: t.selfID,
		IsTyping: false,
	}); err != nil {
		t.logger.Debug("typing auto-stop emit failed", zap.Error(err))
	}
}

func (t *Tracker) onTypingStatus(data json.RawMessage) {
	var evt transport.TypingStatusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.logger.Warn("malformed typing_status event", zap.Error(err))
		return
	}

	t.mu.Lock()
	if evt.ThreadID != t.threadID || evt.SenderID == t.selfID {
		t.mu.Unlock()
		return
	}
	idx := slices.IndexFunc(t.users, func(u TypingUser) bool { return u.UserID == evt.SenderID })
	if evt.IsTyping {
		if idx < 0 {
			t.users = append(t.users, TypingUser{UserID: evt.SenderID, DisplayName: evt.SenderName})
		}
	} else if idx >= 0 {
		t.users = slices.Delete(t.users, idx, idx+1)
	}
	users := slices.Clone(t.users)
	t.mu.Unlock()

	t.publishUsers(users)
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerGen++
}

func (t *Tracker) publishUsers(users []TypingUser) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: bus.KindTypingChanged, Timestamp: time.Now(), Payload: users})
}
