package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedrelay/models"
)

// Enqueue stores an item as pending. Enqueueing a fingerprint that is already queued
// (pending or processed) does nothing and reports false.
func (r *Registry) Enqueue(item models.Item, now time.Time) (bool, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to encode queue payload: %w", err)
	}
	res, err := r.db.Exec(`INSERT OR IGNORE INTO queue (fingerprint, payload, status, enqueued_at) VALUES (?, ?, ?, ?)`,
		item.Fingerprint, string(payload), models.QueuePending, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s: %w", item.Fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DequeueNext returns the oldest pending entry without changing it. The caller marks it
// processed once it has been handled, so a crash mid-item leaves it queued.
func (r *Registry) DequeueNext() (*models.QueueEntry, error) {
	row := r.db.QueryRow(`SELECT fingerprint, payload, status, enqueued_at FROM queue
        WHERE status = ? ORDER BY enqueued_at, rowid LIMIT 1`, models.QueuePending)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// PendingEntries lists pending entries in FIFO order.
func (r *Registry) PendingEntries(limit int) ([]models.QueueEntry, error) {
	rows, err := r.db.Query(`SELECT fingerprint, payload, status, enqueued_at FROM queue
        WHERE status = ? ORDER BY enqueued_at, rowid LIMIT ?`, models.QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// PendingCount returns the number of pending entries.
func (r *Registry) PendingCount() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM queue WHERE status = ?`, models.QueuePending).Scan(&n)
	return n, err
}

// MarkProcessed flags a queue entry as done. Unknown fingerprints are ignored.
func (r *Registry) MarkProcessed(fingerprint string) error {
	_, err := r.db.Exec(`UPDATE queue SET status = ? WHERE fingerprint = ?`, models.QueueProcessed, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", fingerprint, err)
	}
	return nil
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var payload string
	var enqueued int64
	if err := row.Scan(&e.Fingerprint, &payload, &e.Status, &enqueued); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &e.Item); err != nil {
		return nil, fmt.Errorf("failed to decode queue payload for %s: %w", e.Fingerprint, err)
	}
	e.EnqueuedAt = time.UnixMilli(enqueued)
	return &e, nil
}
