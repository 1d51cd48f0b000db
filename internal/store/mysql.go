package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-sync-service/internal/database"
	"marketplace-sync-service/internal/logger"
)

type MySQLStore struct {
	db *database.Database
}

func NewMySQLStore(db *database.Database) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// UpsertEntity writes an entity keyed by (business_key, account). The insert
// and the conflict update are one atomic statement, so concurrent writers on
// different keys never block each other and a duplicate call on the same key
// degrades to last-write-wins on the sync timestamp.
//
// MySQL reports 1 affected row for an insert and 2 for an update through
// ON DUPLICATE KEY (0 when the update changed nothing); created is derived
// from that.
func (s *MySQLStore) UpsertEntity(ctx context.Context, entity *LocalEntity) (bool, error) {
	overrides, err := json.Marshal(entity.ManualOverrides)
	if err != nil {
		return false, fmt.Errorf("failed to marshal manual overrides: %w", err)
	}

	query := `INSERT INTO local_entities
		(id, business_key, account, resource_type, price, stock, status,
		 customer_info, line_items, is_active, manual_overrides,
		 remote_updated_at, last_synced_at, sync_status, sync_error,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		price = VALUES(price),
		stock = VALUES(stock),
		status = VALUES(status),
		customer_info = VALUES(customer_info),
		line_items = VALUES(line_items),
		is_active = VALUES(is_active),
		remote_updated_at = VALUES(remote_updated_at),
		last_synced_at = VALUES(last_synced_at),
		sync_status = VALUES(sync_status),
		sync_error = VALUES(sync_error),
		updated_at = NOW()`

	res, err := s.db.DB.ExecContext(ctx, query,
		entity.ID,
		entity.BusinessKey,
		entity.Account,
		entity.ResourceType,
		entity.Price,
		entity.Stock,
		entity.Status,
		nullableJSON(entity.CustomerInfo),
		nullableJSON(entity.LineItems),
		entity.IsActive,
		overrides,
		entity.RemoteUpdatedAt,
		entity.LastSyncedAt,
		entity.SyncStatus,
		entity.SyncError,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert entity %s/%s: %w", entity.BusinessKey, entity.Account, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *MySQLStore) GetEntity(ctx context.Context, businessKey, account string) (*LocalEntity, error) {
	query := `SELECT id, business_key, account, resource_type, price, stock, status,
			customer_info, line_items, is_active, manual_overrides,
			remote_updated_at, last_synced_at, sync_status, sync_error,
			created_at, updated_at
		FROM local_entities WHERE business_key = ? AND account = ?`

	row := s.db.DB.QueryRowContext(ctx, query, businessKey, account)

	var e LocalEntity
	var customerInfo, lineItems, overrides sql.NullString
	err := row.Scan(
		&e.ID,
		&e.BusinessKey,
		&e.Account,
		&e.ResourceType,
		&e.Price,
		&e.Stock,
		&e.Status,
		&customerInfo,
		&lineItems,
		&e.IsActive,
		&overrides,
		&e.RemoteUpdatedAt,
		&e.LastSyncedAt,
		&e.SyncStatus,
		&e.SyncError,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if customerInfo.Valid {
		e.CustomerInfo = json.RawMessage(customerInfo.String)
	}
	if lineItems.Valid {
		e.LineItems = json.RawMessage(lineItems.String)
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &e.ManualOverrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manual overrides: %w", err)
		}
	}

	return &e, nil
}

func (s *MySQLStore) CountEntities(ctx context.Context, resourceType string) (int64, error) {
	var count int64
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM local_entities WHERE resource_type = ?`, resourceType,
	).Scan(&count)
	return count, err
}

func (s *MySQLStore) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	errorsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `INSERT INTO sync_logs
		(id, resource_type, accounts, status, started_at, completed_at, duration_ms,
		 total_items, created_items, updated_items, failed_items, skipped_items, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB.ExecContext(ctx, query,
		log.ID,
		log.ResourceType,
		log.Accounts,
		log.Status,
		log.StartedAt,
		log.CompletedAt,
		log.DurationMs,
		log.TotalItems,
		log.CreatedItems,
		log.UpdatedItems,
		log.FailedItems,
		log.SkippedItems,
		errorsJSON,
	)
	return err
}

const updateSyncLogQuery = `UPDATE sync_logs SET
	status = ?, completed_at = ?, duration_ms = ?,
	total_items = ?, created_items = ?, updated_items = ?,
	failed_items = ?, skipped_items = ?, errors = ?
	WHERE id = ?`

func (s *MySQLStore) UpdateSyncLog(ctx context.Context, log *SyncLog) error {
	errorsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx, updateSyncLogQuery,
		log.Status,
		log.CompletedAt,
		log.DurationMs,
		log.TotalItems,
		log.CreatedItems,
		log.UpdatedItems,
		log.FailedItems,
		log.SkippedItems,
		errorsJSON,
		log.ID,
	)
	return err
}

// FinalizeSyncLog writes the terminal state of a run and discards its
// progress rows in one transaction.
func (s *MySQLStore) FinalizeSyncLog(ctx context.Context, log *SyncLog) error {
	errorsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, updateSyncLogQuery,
			log.Status,
			log.CompletedAt,
			log.DurationMs,
			log.TotalItems,
			log.CreatedItems,
			log.UpdatedItems,
			log.FailedItems,
			log.SkippedItems,
			errorsJSON,
			log.ID,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_progress WHERE run_id = ?`, log.ID)
		return err
	})
}

const syncLogColumns = `id, resource_type, accounts, status, started_at, completed_at,
	duration_ms, total_items, created_items, updated_items, failed_items, skipped_items, errors`

func (s *MySQLStore) GetSyncLog(ctx context.Context, id string) (*SyncLog, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_logs WHERE id = ?`, id)
	return scanSyncLog(row)
}

func (s *MySQLStore) GetActiveSyncLog(ctx context.Context, resourceType string) (*SyncLog, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_logs
		 WHERE resource_type = ? AND status IN (?, ?)
		 ORDER BY started_at DESC LIMIT 1`,
		resourceType, SyncStatusPending, SyncStatusRunning)
	return scanSyncLog(row)
}

func (s *MySQLStore) GetLastCompletedSyncLog(ctx context.Context, resourceType string) (*SyncLog, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_logs
		 WHERE resource_type = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		resourceType, SyncStatusCompleted)
	return scanSyncLog(row)
}

func (s *MySQLStore) ListSyncLogs(ctx context.Context, resourceType string, limit int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_logs
		 WHERE resource_type = ?
		 ORDER BY started_at DESC LIMIT ?`,
		resourceType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// MarkStaleRuns flips runs stuck in running state past the threshold to
// failed with a synthetic interrupted error, so a crashed process doesn't
// block monitoring forever.
func (s *MySQLStore) MarkStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	staleErrors, err := json.Marshal([]SyncError{{
		Code:    ErrCodeInterrupted,
		Message: "run exceeded staleness threshold without completing",
	}})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE sync_logs SET status = ?, completed_at = NOW(), errors = ?
		 WHERE status IN (?, ?) AND started_at < ?`,
		SyncStatusFailed, staleErrors, SyncStatusPending, SyncStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Warn("Reclassified stale sync runs as failed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *MySQLStore) UpsertProgress(ctx context.Context, p *SyncProgress) error {
	query := `INSERT INTO sync_progress
		(run_id, account, current_page, pages_fetched, items_processed, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
		current_page = VALUES(current_page),
		pages_fetched = VALUES(pages_fetched),
		items_processed = VALUES(items_processed),
		updated_at = NOW()`

	_, err := s.db.DB.ExecContext(ctx, query,
		p.RunID, p.Account, p.CurrentPage, p.PagesFetched, p.ItemsProcessed)
	return err
}

func (s *MySQLStore) GetProgress(ctx context.Context, runID string) ([]*SyncProgress, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT run_id, account, current_page, pages_fetched, items_processed, updated_at
		 FROM sync_progress WHERE run_id = ? ORDER BY account`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var progress []*SyncProgress
	for rows.Next() {
		var p SyncProgress
		if err := rows.Scan(&p.RunID, &p.Account, &p.CurrentPage, &p.PagesFetched, &p.ItemsProcessed, &p.UpdatedAt); err != nil {
			return nil, err
		}
		progress = append(progress, &p)
	}
	return progress, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var log SyncLog
	var errorsJSON sql.NullString
	err := row.Scan(
		&log.ID,
		&log.ResourceType,
		&log.Accounts,
		&log.Status,
		&log.StartedAt,
		&log.CompletedAt,
		&log.DurationMs,
		&log.TotalItems,
		&log.CreatedItems,
		&log.UpdatedItems,
		&log.FailedItems,
		&log.SkippedItems,
		&errorsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &log.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync log errors: %w", err)
		}
	}
	return &log, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
