package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	createdAt := m.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, thread_id, sender_id, content, replies_to_id, is_deleted, deleted_at, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			content = excluded.content,
			is_deleted = excluded.is_deleted,
			deleted_at = excluded.deleted_at`,
		m.MsgID, m.ThreadID, m.SenderID, m.Content, m.RepliesToID, m.IsDeleted, m.DeletedAt, createdAt, now)
	return err
}

// ListMessages returns messages for a thread using keyset pagination by
// created_at.
func (db *DB) ListMessages(threadID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, msg_id, thread_id, sender_id, content, replies_to_id, is_deleted, deleted_at, created_at
		FROM messages
		WHERE thread_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, threadID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ThreadID, &m.SenderID, &m.Content, &m.RepliesToID, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageDeleted tombstones a cached message in place.
func (db *DB) MarkMessageDeleted(msgID, placeholder string, deletedAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET is_deleted = 1, deleted_at = ?, content = ?
		WHERE msg_id = ?`, deletedAt, placeholder, msgID)
	return err
}

// InsertReceipt records a read receipt. Duplicate deliveries are ignored.
func (db *DB) InsertReceipt(r *Receipt) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO receipts (id, message_id, reader_id, reader_name, read_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.MessageID, r.ReaderID, r.ReaderName, r.ReadAt)
	return err
}

// ListReceipts returns the receipts recorded for a message.
func (db *DB) ListReceipts(msgID string) ([]Receipt, error) {
	rows, err := db.Query(`
		SELECT id, message_id, reader_id, reader_name, read_at
		FROM receipts WHERE message_id = ?
		ORDER BY read_at ASC`, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ReaderID, &r.ReaderName, &r.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
