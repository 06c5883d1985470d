package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedrelay/models"
)

// ErrLeaseHeld is returned when another owner holds a live lease.
var ErrLeaseHeld = errors.New("worker lease held by another owner")

// State returns the worker singleton.
func (r *Registry) State() (models.WorkerState, error) {
	var s models.WorkerState
	var expires int64
	err := r.db.QueryRow(`SELECT lease_owner, lease_expires_at, last_fingerprint, daily_post_count, last_reset_date
        FROM worker_state WHERE id = 1`).Scan(&s.LeaseOwner, &expires, &s.LastFingerprint, &s.DailyPostCount, &s.LastResetDate)
	if err != nil {
		return s, fmt.Errorf("failed to read worker state: %w", err)
	}
	if expires > 0 {
		s.LeaseExpiresAt = time.UnixMilli(expires)
	}
	return s, nil
}

// AcquireLease takes the worker lease for owner until now+ttl. It succeeds when the lease is free,
// expired, or already held by owner. The check and the write are one statement.
func (r *Registry) AcquireLease(owner string, ttl time.Duration, now time.Time) error {
	res, err := r.db.Exec(`UPDATE worker_state
        SET lease_owner = ?, lease_expires_at = ?
        WHERE id = 1 AND (lease_owner = '' OR lease_expires_at <= ? OR lease_owner = ?)`,
		owner, now.Add(ttl).UnixMilli(), now.UnixMilli(), owner)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// RenewLease extends a lease still held by owner.
func (r *Registry) RenewLease(owner string, ttl time.Duration, now time.Time) error {
	res, err := r.db.Exec(`UPDATE worker_state SET lease_expires_at = ? WHERE id = 1 AND lease_owner = ?`,
		now.Add(ttl).UnixMilli(), owner)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease frees the lease if owner still holds it.
func (r *Registry) ReleaseLease(owner string) error {
	_, err := r.db.Exec(`UPDATE worker_state SET lease_owner = '', lease_expires_at = 0 WHERE id = 1 AND lease_owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// ForceReleaseLease clears any lease (admin action).
func (r *Registry) ForceReleaseLease() error {
	_, err := r.db.Exec(`UPDATE worker_state SET lease_owner = '', lease_expires_at = 0 WHERE id = 1`)
	return err
}

// LastFingerprint returns the stored feed cut-off, "" when never set.
func (r *Registry) LastFingerprint() (string, error) {
	var fp string
	err := r.db.QueryRow(`SELECT last_fingerprint FROM worker_state WHERE id = 1`).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return fp, err
}

// SetLastFingerprint stores the feed cut-off.
func (r *Registry) SetLastFingerprint(fp string) error {
	_, err := r.db.Exec(`UPDATE worker_state SET last_fingerprint = ? WHERE id = 1`, fp)
	if err != nil {
		return fmt.Errorf("failed to set last fingerprint: %w", err)
	}
	return nil
}

// DailyCount returns today's publish count, resetting the counter first when the stored
// reset date is not today.
func (r *Registry) DailyCount(today string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE worker_state SET daily_post_count = 0, last_reset_date = ?
        WHERE id = 1 AND last_reset_date <> ?`, today, today); err != nil {
		return 0, fmt.Errorf("failed to reset daily count: %w", err)
	}
	var n int
	if err := tx.QueryRow(`SELECT daily_post_count FROM worker_state WHERE id = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read daily count: %w", err)
	}
	return n, tx.Commit()
}

// IncrementDailyCount adds one publish to today's counter and returns the new value.
func (r *Registry) IncrementDailyCount(today string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE worker_state
        SET daily_post_count = CASE WHEN last_reset_date = ? THEN daily_post_count + 1 ELSE 1 END,
            last_reset_date = ?
        WHERE id = 1`, today, today); err != nil {
		return 0, fmt.Errorf("failed to increment daily count: %w", err)
	}
	var n int
	if err := tx.QueryRow(`SELECT daily_post_count FROM worker_state WHERE id = 1`).Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
