package models

import "time"

// Status summarises the worker for the status file and the /status command.
type Status struct {
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastCycleResult string    `json:"last_cycle_result"`
	Fetched         int       `json:"fetched"`
	Published       int       `json:"published"`
	Enqueued        int       `json:"enqueued"`
	Failed          int       `json:"failed"`
	TotalPublished  int       `json:"total_published"`
	CurrentItem     string    `json:"current_item,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}
