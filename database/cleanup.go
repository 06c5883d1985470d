package database

import (
	"fmt"
	"log"
	"time"

	"feedrelay/models"
	"feedrelay/utils"
)

// PruneProcessedQueue deletes processed queue entries enqueued before now-retention.
// Pending entries are never pruned.
func (r *Registry) PruneProcessedQueue(retention time.Duration, now time.Time) (int64, error) {
	log.Println("Starting cleanup of processed queue entries...")

	cutoff := now.Add(-retention).UnixMilli()
	stmt, err := r.db.Prepare(`DELETE FROM queue WHERE status = ? AND enqueued_at < ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare queue cleanup: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(models.QueueProcessed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up queue: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.Printf("Successfully cleaned up %d processed queue entries", rowsAffected)
	if rowsAffected > 0 {
		utils.Info("PruneProcessedQueue", "Cleanup", fmt.Sprintf("Removed %d processed queue entries older than %v", rowsAffected, retention))
	}
	return rowsAffected, nil
}
