package store

import (
	"context"
	"time"
)

type Store interface {
	// Entities
	UpsertEntity(ctx context.Context, entity *LocalEntity) (created bool, err error)
	GetEntity(ctx context.Context, businessKey, account string) (*LocalEntity, error)
	CountEntities(ctx context.Context, resourceType string) (int64, error)

	// Sync logs
	CreateSyncLog(ctx context.Context, log *SyncLog) error
	UpdateSyncLog(ctx context.Context, log *SyncLog) error
	FinalizeSyncLog(ctx context.Context, log *SyncLog) error
	GetSyncLog(ctx context.Context, id string) (*SyncLog, error)
	GetActiveSyncLog(ctx context.Context, resourceType string) (*SyncLog, error)
	GetLastCompletedSyncLog(ctx context.Context, resourceType string) (*SyncLog, error)
	ListSyncLogs(ctx context.Context, resourceType string, limit int) ([]*SyncLog, error)
	MarkStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)

	// Progress
	UpsertProgress(ctx context.Context, progress *SyncProgress) error
	GetProgress(ctx context.Context, runID string) ([]*SyncProgress, error)

	// General
	Close() error
}
