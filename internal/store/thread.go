package store

import (
	"database/sql"
	"time"
)

// UpsertThread inserts or updates a thread record.
func (db *DB) UpsertThread(t *Thread) error {
	now := time.Now().UnixMilli()
	updatedAt := t.UpdatedAt
	if updatedAt == 0 {
		updatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO threads (id, name, is_group, last_message_preview, updated_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at,
			cached_at = excluded.cached_at`,
		t.ID, t.Name, t.IsGroup, t.LastMessagePreview, updatedAt, now)
	return err
}

// ListThreads returns cached threads sorted by last activity descending.
func (db *DB) ListThreads(limit, offset int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, is_group, last_message_preview, updated_at
		FROM threads
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Name, &t.IsGroup, &t.LastMessagePreview, &t.UpdatedAt); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// GetThread returns a single thread by id, nil when not cached.
func (db *DB) GetThread(id string) (*Thread, error) {
	var t Thread
	err := db.QueryRow(`
		SELECT id, name, is_group, last_message_preview, updated_at
		FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.IsGroup, &t.LastMessagePreview, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
