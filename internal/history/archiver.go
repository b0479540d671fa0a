package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leaguechat/internal/api"
	"leaguechat/internal/bus"
	"leaguechat/internal/chat"
	"leaguechat/internal/store"
)

// Archiver mirrors thread and message events into the on-disk history
// cache. It subscribes to the "thread." and "message." namespaces on
// the bus, so the stores never depend on the cache directly.
type Archiver struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewArchiver creates an archiver over the given history database.
func NewArchiver(db *store.DB, b *bus.Bus, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to thread and message events on the bus.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	threadCh, unsubThreads := a.bus.Subscribe("thread.", 256)
	msgCh, unsubMsgs := a.bus.Subscribe("message.", 256)

	go func() {
		defer unsubThreads()
		defer unsubMsgs()
		for {
			select {
			case evt := <-threadCh:
				a.handleEvent(evt)
			case evt := <-msgCh:
				a.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the archiver.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Archiver) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindThreadSynced:
		threads, ok := evt.Payload.([]api.Thread)
		if !ok {
			return
		}
		if err := a.ArchiveThreads(threads); err != nil {
			a.logger.Error("failed to archive thread list", zap.Error(err), zap.Int("count", len(threads)))
		}
	case bus.KindThreadUpserted:
		t, ok := evt.Payload.(api.Thread)
		if !ok {
			return
		}
		if err := a.db.UpsertThread(storeThread(t)); err != nil {
			a.logger.Error("failed to archive thread", zap.Error(err), zap.String("thread_id", t.ID))
		}
	case bus.KindMessageSynced:
		synced, ok := evt.Payload.(chat.MessagesSynced)
		if !ok || synced.ThreadID == "" {
			return
		}
		if err := a.ArchiveMessages(synced.Messages); err != nil {
			a.logger.Error("failed to archive message batch", zap.Error(err), zap.String("thread_id", synced.ThreadID))
		}
	case bus.KindMessageUpsert:
		m, ok := evt.Payload.(api.Message)
		if !ok {
			return
		}
		if err := a.db.UpsertMessage(storeMessage(m)); err != nil {
			a.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", m.ID))
		}
	case bus.KindMessageDeleted:
		del, ok := evt.Payload.(chat.MessageDeleted)
		if !ok {
			return
		}
		if err := a.db.MarkMessageDeleted(del.MessageID, chat.DeletedPlaceholder, del.DeletedAt.UnixMilli()); err != nil {
			a.logger.Error("failed to archive deletion", zap.Error(err), zap.String("msg_id", del.MessageID))
		}
	case bus.KindMessageRead:
		r, ok := evt.Payload.(api.ReadReceipt)
		if !ok {
			return
		}
		if err := a.db.InsertReceipt(&store.Receipt{
			ID:         r.ID,
			MessageID:  r.MessageID,
			ReaderID:   r.ReaderID,
			ReaderName: r.ReaderName,
			ReadAt:     r.ReadAt.UnixMilli(),
		}); err != nil {
			a.logger.Error("failed to archive receipt", zap.Error(err), zap.String("receipt_id", r.ID))
		}
	}
}

// ArchiveThreads persists a full thread-list snapshot in one
// transaction.
func (a *Archiver) ArchiveThreads(threads []api.Thread) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, t := range threads {
		st := storeThread(t)
		if _, err := tx.Exec(`
			INSERT INTO threads (id, name, is_group, last_message_preview, updated_at, cached_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				is_group = excluded.is_group,
				last_message_preview = excluded.last_message_preview,
				updated_at = MAX(threads.updated_at, excluded.updated_at),
				cached_at = excluded.cached_at`,
			st.ID, st.Name, st.IsGroup, st.LastMessagePreview, st.UpdatedAt, now); err != nil {
			return fmt.Errorf("upsert thread in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ArchiveMessages persists a message batch in one transaction.
func (a *Archiver) ArchiveMessages(msgs []api.Message) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		sm := storeMessage(m)
		if _, err := tx.Exec(`
			INSERT INTO messages (msg_id, thread_id, sender_id, content, replies_to_id, is_deleted, deleted_at, created_at, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(msg_id) DO UPDATE SET
				content = excluded.content,
				is_deleted = excluded.is_deleted,
				deleted_at = excluded.deleted_at`,
			sm.MsgID, sm.ThreadID, sm.SenderID, sm.Content, sm.RepliesToID, sm.IsDeleted, sm.DeletedAt, sm.CreatedAt, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func storeThread(t api.Thread) *store.Thread {
	st := &store.Thread{
		ID:      t.ID,
		Name:    t.Name,
		IsGroup: t.IsGroup,
	}
	if !t.UpdatedAt.IsZero() {
		st.UpdatedAt = t.UpdatedAt.UnixMilli()
	}
	if last := t.LastMessage(); last != nil {
		st.LastMessagePreview = truncate(last.Content, 100)
	}
	return st
}

func storeMessage(m api.Message) *store.Message {
	sm := &store.Message{
		MsgID:       m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		RepliesToID: m.RepliesToID,
		IsDeleted:   m.IsDeleted,
	}
	if !m.CreatedAt.IsZero() {
		sm.CreatedAt = m.CreatedAt.UnixMilli()
	}
	if m.DeletedAt != nil {
		sm.DeletedAt = m.DeletedAt.UnixMilli()
	}
	return sm
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
