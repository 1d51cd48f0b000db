package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-sync-service/internal/config"
	"marketplace-sync-service/internal/logger"
	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/metrics"
	"marketplace-sync-service/internal/store"
)

var (
	// ErrSyncInProgress rejects a trigger while a run for the same resource
	// type is active. The caller gets a conflict, never a queue.
	ErrSyncInProgress = errors.New("a sync run is already active for this resource type")

	// ErrWaitTimeout is returned by StartAndWait when the caller's budget
	// expires before the run finishes. The run itself keeps going under its
	// own timeout.
	ErrWaitTimeout = errors.New("timed out waiting for sync run to finish")
)

// Manager orchestrates sync runs: it owns the concurrency guard, the
// wall-clock timeout, the per-account fan-out and the SyncLog lifecycle.
type Manager struct {
	cfg     config.SyncConfig
	store   store.Store
	fetcher *Fetcher
	guard   *Guard

	mu     sync.Mutex
	active map[marketplace.ResourceType]*activeRun
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type accountResult struct {
	total, created, updated, failed, skipped int
	errors                                   []store.SyncError
	fatal                                    bool
}

func NewManager(cfg config.SyncConfig, st store.Store, source PageSource) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		fetcher: NewFetcher(source),
		guard:   NewGuard(),
		active:  make(map[marketplace.ResourceType]*activeRun),
	}
}

// Start launches a sync run and returns its id, or ErrSyncInProgress when
// the guard is held for the resource type.
func (m *Manager) Start(req Request) (string, error) {
	runID, _, err := m.start(req)
	return runID, err
}

// StartAndWait is the synchronous trigger variant: it blocks until the run
// finishes and returns the final SyncLog, or ErrWaitTimeout when ctx expires
// first.
func (m *Manager) StartAndWait(ctx context.Context, req Request) (*store.SyncLog, error) {
	runID, done, err := m.start(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
		return m.store.GetSyncLog(context.Background(), runID)
	case <-ctx.Done():
		return nil, ErrWaitTimeout
	}
}

func (m *Manager) start(req Request) (string, chan struct{}, error) {
	req, strategy, err := m.normalize(req)
	if err != nil {
		return "", nil, err
	}

	if !m.guard.TryAcquire(req.ResourceType) {
		return "", nil, ErrSyncInProgress
	}

	names := make([]string, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		names = append(names, string(a))
	}

	log := &store.SyncLog{
		ID:           uuid.New().String(),
		ResourceType: string(req.ResourceType),
		Accounts:     strings.Join(names, ","),
		Status:       store.SyncStatusPending,
		StartedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateSyncLog(context.Background(), log); err != nil {
		m.guard.Release(req.ResourceType)
		return "", nil, fmt.Errorf("failed to create sync log: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GetRunTimeout())
	ar := &activeRun{id: log.ID, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.active[req.ResourceType] = ar
	m.mu.Unlock()

	logger.Log.Info("Starting sync run",
		zap.String("run_id", log.ID),
		zap.String("resource", string(req.ResourceType)),
		zap.String("accounts", log.Accounts),
		zap.String("mode", string(req.Mode)),
		zap.String("strategy", strategy.String()),
	)

	go m.run(ctx, cancel, req, strategy, log, ar)
	return log.ID, ar.done, nil
}

func (m *Manager) normalize(req Request) (Request, Strategy, error) {
	if _, err := marketplace.ParseResourceType(string(req.ResourceType)); err != nil {
		return req, RemotePriority, err
	}
	if len(req.Accounts) == 0 {
		req.Accounts, _ = ParseAccounts(nil)
	}
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	if req.Mode != ModeFull && req.Mode != ModeIncremental {
		return req, RemotePriority, fmt.Errorf("unknown sync mode %q", req.Mode)
	}
	if req.MaxPages <= 0 {
		req.MaxPages = m.cfg.GetMaxPages()
	}
	if req.ItemsPerPage <= 0 {
		req.ItemsPerPage = m.cfg.GetItemsPerPage()
	}
	if req.ItemsPerPage > marketplace.MaxPageSize {
		return req, RemotePriority, fmt.Errorf("items per page exceeds provider maximum of %d", marketplace.MaxPageSize)
	}

	name := req.Strategy
	if name == "" {
		name = m.cfg.ConflictStrategy
	}
	strategy := RemotePriority
	if name != "" {
		s, err := ParseStrategy(name)
		if err != nil {
			return req, RemotePriority, err
		}
		strategy = s
	}
	return req, strategy, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, req Request, strategy Strategy, log *store.SyncLog, ar *activeRun) {
	started := time.Now()
	defer close(ar.done)
	defer func() {
		m.mu.Lock()
		delete(m.active, req.ResourceType)
		m.mu.Unlock()
		m.guard.Release(req.ResourceType)
		cancel()
	}()

	log.Status = store.SyncStatusRunning
	if err := m.store.UpdateSyncLog(ctx, log); err != nil {
		logger.Log.Error("Failed to mark sync log running",
			zap.String("run_id", log.ID), zap.Error(err))
	}

	filters := m.buildFilters(ctx, req)

	results := make([]*accountResult, len(req.Accounts))
	var wg sync.WaitGroup
	for i, account := range req.Accounts {
		wg.Add(1)
		go func(i int, account marketplace.Account) {
			defer wg.Done()
			results[i] = m.syncAccount(ctx, req, strategy, filters, log.ID, account)
		}(i, account)
	}
	wg.Wait()

	fatalAccounts := 0
	for _, res := range results {
		log.TotalItems += res.total
		log.CreatedItems += res.created
		log.UpdatedItems += res.updated
		log.FailedItems += res.failed
		log.SkippedItems += res.skipped
		log.Errors = append(log.Errors, res.errors...)
		if res.fatal {
			fatalAccounts++
		}
	}

	// One failed account doesn't fail the run: partial results are
	// reported, the errors list says what broke.
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Status = store.SyncStatusFailed
		log.Errors = append(log.Errors, store.SyncError{
			Code:    store.ErrCodeTimeout,
			Message: fmt.Sprintf("run exceeded wall-clock budget of %s", m.cfg.GetRunTimeout()),
		})
	case ctx.Err() != nil:
		log.Status = store.SyncStatusFailed
		log.Errors = append(log.Errors, store.SyncError{
			Code:    store.ErrCodeCancelled,
			Message: "run was stopped before completion",
		})
	case fatalAccounts == len(req.Accounts):
		log.Status = store.SyncStatusFailed
	default:
		log.Status = store.SyncStatusCompleted
	}

	log.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	log.DurationMs = time.Since(started).Milliseconds()

	if err := m.store.FinalizeSyncLog(context.Background(), log); err != nil {
		logger.Log.Error("Failed to finalize sync log",
			zap.String("run_id", log.ID), zap.Error(err))
	}

	metrics.RecordRun(log.ResourceType, string(log.Status), time.Since(started))
	metrics.RecordItems(log.ResourceType, log.CreatedItems, log.UpdatedItems, log.FailedItems, log.SkippedItems)

	logger.Log.Info("Sync run finished",
		zap.String("run_id", log.ID),
		zap.String("status", string(log.Status)),
		zap.Int("total", log.TotalItems),
		zap.Int("created", log.CreatedItems),
		zap.Int("updated", log.UpdatedItems),
		zap.Int("failed", log.FailedItems),
		zap.Int("skipped", log.SkippedItems),
		zap.Int64("duration_ms", log.DurationMs),
	)
}

// buildFilters resolves the incremental watermark. A missing watermark
// degrades to a full sync rather than failing the run.
func (m *Manager) buildFilters(ctx context.Context, req Request) map[string]string {
	if req.Mode != ModeIncremental {
		return nil
	}
	last, err := m.store.GetLastCompletedSyncLog(ctx, string(req.ResourceType))
	if err != nil {
		logger.Log.Warn("Failed to resolve incremental watermark, running full sync", zap.Error(err))
		return nil
	}
	if last == nil || !last.CompletedAt.Valid {
		return nil
	}
	return map[string]string{
		"updated_since": last.CompletedAt.Time.UTC().Format(time.RFC3339),
	}
}

func (m *Manager) syncAccount(ctx context.Context, req Request, strategy Strategy, filters map[string]string, runID string, account marketplace.Account) *accountResult {
	res := &accountResult{}
	opts := FetchOptions{
		MaxPages:     req.MaxPages,
		ItemsPerPage: req.ItemsPerPage,
		PageDelay:    m.cfg.GetPageDelay(),
		Filters:      filters,
	}
	progress := &store.SyncProgress{RunID: runID, Account: string(account)}

	for ev := range m.fetcher.Run(ctx, account, req.ResourceType, opts) {
		if ev.Fatal {
			res.fatal = true
			res.errors = append(res.errors, store.SyncError{
				Account: string(account),
				Page:    ev.Page,
				Code:    store.ErrCodeAccountFailed,
				Message: ev.Err.Error(),
			})
			break
		}
		if ev.Skipped {
			res.errors = append(res.errors, store.SyncError{
				Account: string(account),
				Page:    ev.Page,
				Code:    store.ErrCodePageSkipped,
				Message: ev.Err.Error(),
			})
			continue
		}

		m.applyPage(ctx, req, strategy, account, ev.Records, res)

		progress.CurrentPage = ev.Page
		progress.PagesFetched++
		progress.ItemsProcessed = res.total + res.failed + res.skipped
		if err := m.store.UpsertProgress(ctx, progress); err != nil && ctx.Err() == nil {
			logger.Log.Warn("Failed to update sync progress",
				zap.String("run_id", runID), zap.Error(err))
		}
	}
	return res
}

// applyPage pushes one page of records through the resolver and the store.
// A single record's failure is counted and the rest of the page continues.
func (m *Manager) applyPage(ctx context.Context, req Request, strategy Strategy, account marketplace.Account, records []marketplace.RemoteRecord, res *accountResult) {
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		// Malformed records never reach the resolver.
		if rec.BusinessKey == "" {
			res.skipped++
			continue
		}

		existing, err := m.store.GetEntity(ctx, rec.BusinessKey, string(account))
		if err != nil {
			res.failed++
			res.errors = append(res.errors, store.SyncError{
				Account:     string(account),
				BusinessKey: rec.BusinessKey,
				Code:        store.ErrCodePersistence,
				Message:     err.Error(),
			})
			continue
		}

		merged, changed := Resolve(existing, rec, strategy)
		if merged.ID == "" {
			merged.ID = uuid.New().String()
		}
		merged.ResourceType = string(req.ResourceType)
		merged.LastSyncedAt = time.Now().UTC()
		merged.SyncStatus = "synced"
		merged.SyncError = sql.NullString{}

		created, err := m.store.UpsertEntity(ctx, &merged)
		if err != nil {
			res.failed++
			res.errors = append(res.errors, store.SyncError{
				Account:     string(account),
				BusinessKey: rec.BusinessKey,
				Code:        store.ErrCodePersistence,
				Message:     err.Error(),
			})
			continue
		}

		res.total++
		if created {
			res.created++
		} else if changed {
			res.updated++
		}
	}
}

// Status reports the live view for one resource type.
func (m *Manager) Status(ctx context.Context, resource marketplace.ResourceType) (*StatusReport, error) {
	report := &StatusReport{}

	m.mu.Lock()
	ar := m.active[resource]
	m.mu.Unlock()

	if ar != nil {
		report.IsRunning = true
		if current, err := m.store.GetSyncLog(ctx, ar.id); err == nil {
			report.CurrentRun = current
		}
		if progress, err := m.store.GetProgress(ctx, ar.id); err == nil {
			report.Progress = progress
		}
	} else {
		// A run owned by another process (or left behind by a crash, until
		// the staleness sweep catches it) still shows up as active.
		if current, err := m.store.GetActiveSyncLog(ctx, string(resource)); err == nil && current != nil {
			report.IsRunning = true
			report.CurrentRun = current
			if progress, err := m.store.GetProgress(ctx, current.ID); err == nil {
				report.Progress = progress
			}
		}
	}

	recent, err := m.store.ListSyncLogs(ctx, string(resource), 10)
	if err != nil {
		return nil, err
	}
	report.RecentRuns = recent
	return report, nil
}

// Stop cooperatively cancels the active run for the resource type. The run
// is finalized as failed with a cancelled error, not as completed.
func (m *Manager) Stop(resource marketplace.ResourceType) bool {
	m.mu.Lock()
	ar := m.active[resource]
	m.mu.Unlock()

	if ar == nil {
		return false
	}
	logger.Log.Info("Stopping sync run",
		zap.String("run_id", ar.id), zap.String("resource", string(resource)))
	ar.cancel()
	return true
}

// StopAll cancels every active run and returns how many were stopped.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	runs := make([]*activeRun, 0, len(m.active))
	for _, ar := range m.active {
		runs = append(runs, ar)
	}
	m.mu.Unlock()

	for _, ar := range runs {
		ar.cancel()
	}
	return len(runs)
}
