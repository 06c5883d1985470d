package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedrelay/models"
)

// DedupMatch tells which key matched in Seen.
type DedupMatch string

const (
	MatchNone        DedupMatch = ""
	MatchFingerprint DedupMatch = "fingerprint"
	MatchTitle       DedupMatch = "title"
)

const recordColumns = `id, token, fingerprint, part, parts, title, name, channel_id, message_id, size, created_at`

// completeItems selects fingerprints whose every part is recorded; %s is the WHERE condition.
const completeItems = `SELECT COUNT(1) FROM (
    SELECT fingerprint FROM upload_records WHERE %s
    GROUP BY fingerprint HAVING COUNT(1) >= MAX(parts))`

// InsertRecord saves an upload record. A second record for the same fingerprint and part is ignored;
// the returned bool reports whether a row was written.
func (r *Registry) InsertRecord(rec models.UploadRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Parts < 1 {
		rec.Parts = 1
	}
	stmt, err := r.db.Prepare(`
    INSERT OR IGNORE INTO upload_records (
        token, fingerprint, part, parts, title, name, channel_id, message_id, size, created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare statement for saving record: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(rec.Token, rec.Fingerprint, rec.Part, rec.Parts, rec.Title, rec.Name, rec.ChannelID, rec.MessageID, rec.Size, rec.CreatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to save record %s: %w", rec.Fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordByToken looks up a record by its redemption token.
func (r *Registry) RecordByToken(token string) (*models.UploadRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM upload_records WHERE token = ?`, token)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// RecordByMessage looks up the record for a published message.
func (r *Registry) RecordByMessage(channelID, messageID string) (*models.UploadRecord, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM upload_records WHERE channel_id = ? AND message_id = ?`, channelID, messageID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// RecordsByFingerprint returns every part published for a fingerprint, ordered by part.
func (r *Registry) RecordsByFingerprint(fingerprint string) ([]models.UploadRecord, error) {
	rows, err := r.db.Query(`SELECT `+recordColumns+` FROM upload_records WHERE fingerprint = ? ORDER BY part`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecentRecords returns the newest records first.
func (r *Registry) RecentRecords(limit int) ([]models.UploadRecord, error) {
	rows, err := r.db.Query(`SELECT `+recordColumns+` FROM upload_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Seen is the single dedup check. The fingerprint is the canonical key and is consulted first;
// an exact title match is a fallback for records whose title was later re-normalised.
// Only items with every part recorded count: a split item missing a part is still unpublished.
func (r *Registry) Seen(fingerprint, title string) (DedupMatch, error) {
	var n int
	if err := r.db.QueryRow(fmt.Sprintf(completeItems, "fingerprint = ?"), fingerprint).Scan(&n); err != nil {
		return MatchNone, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	if n > 0 {
		return MatchFingerprint, nil
	}
	if title == "" {
		return MatchNone, nil
	}
	if err := r.db.QueryRow(fmt.Sprintf(completeItems, "title = ?"), title).Scan(&n); err != nil {
		return MatchNone, fmt.Errorf("failed to check title: %w", err)
	}
	if n > 0 {
		return MatchTitle, nil
	}
	return MatchNone, nil
}

// DeleteRecordsByFingerprint removes an item's records (admin action).
func (r *Registry) DeleteRecordsByFingerprint(fingerprint string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM upload_records WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records for %s: %w", fingerprint, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	var created int64
	if err := row.Scan(&rec.ID, &rec.Token, &rec.Fingerprint, &rec.Part, &rec.Parts, &rec.Title, &rec.Name, &rec.ChannelID, &rec.MessageID, &rec.Size, &created); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.UploadRecord, error) {
	var out []models.UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
