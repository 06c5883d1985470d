package models

import "time"

// UploadRecord is a published file. One per part when a file was split.
type UploadRecord struct {
	ID          int64     `db:"id"`
	Token       string    `db:"token"` // Unique, handed to end users
	Fingerprint string    `db:"fingerprint"`
	Part        int       `db:"part"`  // 0 for a single upload, 1 and 2 for split halves
	Parts       int       `db:"parts"` // how many parts the item was published in
	Title       string    `db:"title"` // display title of the item, used by dedup
	Name        string    `db:"name"`  // file name as sent
	ChannelID   string    `db:"channel_id"`
	MessageID   string    `db:"message_id"`
	Size        int64     `db:"size"`
	CreatedAt   time.Time `db:"created_at"`
}

// QueueStatus is the lifecycle of a queue entry.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueProcessed QueueStatus = "processed"
)

// QueueEntry is an item deferred by the daily cap.
type QueueEntry struct {
	Fingerprint string      `db:"fingerprint"` // Unique
	Item        Item        `db:"payload"`
	Status      QueueStatus `db:"status"`
	EnqueuedAt  time.Time   `db:"enqueued_at"`
}

// WorkerState is the singleton row driving the scheduler.
type WorkerState struct {
	LeaseOwner      string    `db:"lease_owner"`
	LeaseExpiresAt  time.Time `db:"lease_expires_at"`
	LastFingerprint string    `db:"last_fingerprint"`
	DailyPostCount  int       `db:"daily_post_count"`
	LastResetDate   string    `db:"last_reset_date"` // YYYY-MM-DD
}

// IsWorking reports whether a live lease is held at now.
func (s WorkerState) IsWorking(now time.Time) bool {
	return s.LeaseOwner != "" && now.Before(s.LeaseExpiresAt)
}

// FailedDownload marks an item whose swarm transfer failed for good.
type FailedDownload struct {
	ID          int64     `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	Title       string    `db:"title"`
	Descriptor  string    `db:"descriptor"`
	Reason      string    `db:"reason"`
	FailedAt    time.Time `db:"failed_at"`
}

// Stats are the registry totals shown by /stats and /status.
type Stats struct {
	Records       int
	Fingerprints  int
	TotalBytes    int64
	PendingQueue  int
	FailedEntries int
}
