package models

import "time"

// Refresh record statuses.
const (
	RefreshStatusRefreshed = "refreshed"
	RefreshStatusFailed    = "failed"
	RefreshStatusSkipped   = "skipped"
)

// RefreshResult holds the aggregate counts of one refresh run.
type RefreshResult struct {
	Processed int       `json:"processed"`
	Refreshed int       `json:"refreshed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	DryRun    bool      `json:"dry_run"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// RefreshRecord describes what happened to a single item during a run.
type RefreshRecord struct {
	ItemID   string    `json:"item_id" csv:"item_id"`
	Category Category  `json:"category" csv:"category"`
	Status   string    `json:"status" csv:"status"`
	Error    string    `json:"error,omitempty" csv:"error"`
	At       time.Time `json:"at" csv:"at"`
}
