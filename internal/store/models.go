package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Error codes recorded in a SyncLog's error list. Timeouts and cancellations
// finalize the run as failed with one of these codes rather than a separate
// status, so the status column stays a small closed set.
const (
	ErrCodeTimeout       = "timeout"
	ErrCodeCancelled     = "cancelled"
	ErrCodeInterrupted   = "interrupted"
	ErrCodeAccountFailed = "account_failed"
	ErrCodePageSkipped   = "page_skipped"
	ErrCodePersistence   = "persistence"
)

// LocalEntity is the durable record of one marketplace offer or order.
// (BusinessKey, Account) is unique; the sync engine never deletes rows —
// remote delisting flips IsActive through the normal upsert path.
type LocalEntity struct {
	ID              string          `db:"id"`
	BusinessKey     string          `db:"business_key"`
	Account         string          `db:"account"`
	ResourceType    string          `db:"resource_type"`
	Price           float64         `db:"price"`
	Stock           int             `db:"stock"`
	Status          string          `db:"status"`
	CustomerInfo    json.RawMessage `db:"customer_info"`
	LineItems       json.RawMessage `db:"line_items"`
	IsActive        bool            `db:"is_active"`
	ManualOverrides []string        `db:"manual_overrides"`
	RemoteUpdatedAt time.Time       `db:"remote_updated_at"`
	LastSyncedAt    time.Time       `db:"last_synced_at"`
	SyncStatus      string          `db:"sync_status"`
	SyncError       sql.NullString  `db:"sync_error"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// SyncError is one structured entry in a run's error list.
type SyncError struct {
	Account     string `json:"account,omitempty"`
	Page        int    `json:"page,omitempty"`
	BusinessKey string `json:"business_key,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// SyncLog is one row per sync run.
type SyncLog struct {
	ID           string       `db:"id" json:"id"`
	ResourceType string       `db:"resource_type" json:"resource_type"`
	Accounts     string       `db:"accounts" json:"accounts"`
	Status       SyncStatus   `db:"status" json:"status"`
	StartedAt    time.Time    `db:"started_at" json:"started_at"`
	CompletedAt  sql.NullTime `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs   int64        `db:"duration_ms" json:"duration_ms"`
	TotalItems   int          `db:"total_items" json:"total_items"`
	CreatedItems int          `db:"created_items" json:"created_items"`
	UpdatedItems int          `db:"updated_items" json:"updated_items"`
	FailedItems  int          `db:"failed_items" json:"failed_items"`
	SkippedItems int          `db:"skipped_items" json:"skipped_items"`
	Errors       []SyncError  `db:"errors" json:"errors,omitempty"`
}

// SyncProgress tracks per-account paging inside an active run, for polling.
// Rows are removed when the run is finalized.
type SyncProgress struct {
	RunID          string    `db:"run_id" json:"run_id"`
	Account        string    `db:"account" json:"account"`
	CurrentPage    int       `db:"current_page" json:"current_page"`
	PagesFetched   int       `db:"pages_fetched" json:"pages_fetched"`
	ItemsProcessed int       `db:"items_processed" json:"items_processed"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
