package database

import (
	"fmt"
	"time"

	"feedrelay/models"
)

// AddFailedDownload records a permanent swarm failure. A fingerprint is recorded once.
func (r *Registry) AddFailedDownload(f models.FailedDownload) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}
	stmt, err := r.db.Prepare(`INSERT OR IGNORE INTO failed_downloads (fingerprint, title, descriptor, reason, failed_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(f.Fingerprint, f.Title, f.Descriptor, f.Reason, f.FailedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record failed download %s: %w", f.Fingerprint, err)
	}
	return nil
}

// IsFailed reports whether the fingerprint failed permanently before.
func (r *Registry) IsFailed(fingerprint string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM failed_downloads WHERE fingerprint = ?`, fingerprint).Scan(&n)
	return n > 0, err
}

// FailedDownloads returns the most recent failures first.
func (r *Registry) FailedDownloads(limit int) ([]models.FailedDownload, error) {
	rows, err := r.db.Query(`SELECT id, fingerprint, title, descriptor, reason, failed_at
        FROM failed_downloads ORDER BY failed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed downloads: %w", err)
	}
	defer rows.Close()

	var out []models.FailedDownload
	for rows.Next() {
		var f models.FailedDownload
		var at int64
		if err := rows.Scan(&f.ID, &f.Fingerprint, &f.Title, &f.Descriptor, &f.Reason, &at); err != nil {
			return nil, err
		}
		f.FailedAt = time.Unix(at, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailedDownloads empties the table and returns how many rows were removed.
func (r *Registry) ClearFailedDownloads() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM failed_downloads`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed downloads: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns registry totals.
func (r *Registry) Stats() (models.Stats, error) {
	var s models.Stats
	err := r.db.QueryRow(`SELECT COUNT(1), COUNT(DISTINCT fingerprint), COALESCE(SUM(size), 0) FROM upload_records`).
		Scan(&s.Records, &s.Fingerprints, &s.TotalBytes)
	if err != nil {
		return s, fmt.Errorf("failed to read record stats: %w", err)
	}
	if s.PendingQueue, err = r.PendingCount(); err != nil {
		return s, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM failed_downloads`).Scan(&s.FailedEntries); err != nil {
		return s, err
	}
	return s, nil
}
