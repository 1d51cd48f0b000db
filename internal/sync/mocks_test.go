package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/store"
)

// memoryStore is an in-memory store.Store used by the manager tests.
type memoryStore struct {
	mu       sync.Mutex
	entities map[string]*store.LocalEntity
	logs     map[string]*store.SyncLog
	progress map[string]*store.SyncProgress
	failKeys map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entities: make(map[string]*store.LocalEntity),
		logs:     make(map[string]*store.SyncLog),
		progress: make(map[string]*store.SyncProgress),
		failKeys: make(map[string]bool),
	}
}

func entityKey(businessKey, account string) string {
	return businessKey + "|" + account
}

func (s *memoryStore) UpsertEntity(ctx context.Context, entity *store.LocalEntity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failKeys[entity.BusinessKey] {
		return false, fmt.Errorf("simulated persistence failure for %s", entity.BusinessKey)
	}

	key := entityKey(entity.BusinessKey, entity.Account)
	now := time.Now().UTC()
	if existing, ok := s.entities[key]; ok {
		copied := *entity
		copied.CreatedAt = existing.CreatedAt
		copied.UpdatedAt = now
		s.entities[key] = &copied
		return false, nil
	}

	copied := *entity
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.entities[key] = &copied
	return true, nil
}

func (s *memoryStore) GetEntity(ctx context.Context, businessKey, account string) (*store.LocalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityKey(businessKey, account)]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (s *memoryStore) CountEntities(ctx context.Context, resourceType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.entities {
		if e.ResourceType == resourceType {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) CreateSyncLog(ctx context.Context, log *store.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.logs[log.ID] = &copied
	return nil
}

func (s *memoryStore) UpdateSyncLog(ctx context.Context, log *store.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.logs[log.ID] = &copied
	return nil
}

func (s *memoryStore) FinalizeSyncLog(ctx context.Context, log *store.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.logs[log.ID] = &copied
	for key, p := range s.progress {
		if p.RunID == log.ID {
			delete(s.progress, key)
		}
	}
	return nil
}

func (s *memoryStore) GetSyncLog(ctx context.Context, id string) (*store.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	copied := *log
	return &copied, nil
}

func (s *memoryStore) GetActiveSyncLog(ctx context.Context, resourceType string) (*store.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.logs {
		if log.ResourceType == resourceType &&
			(log.Status == store.SyncStatusPending || log.Status == store.SyncStatusRunning) {
			copied := *log
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetLastCompletedSyncLog(ctx context.Context, resourceType string) (*store.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *store.SyncLog
	for _, log := range s.logs {
		if log.ResourceType != resourceType || log.Status != store.SyncStatusCompleted {
			continue
		}
		if latest == nil || log.StartedAt.After(latest.StartedAt) {
			latest = log
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *memoryStore) ListSyncLogs(ctx context.Context, resourceType string, limit int) ([]*store.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var logs []*store.SyncLog
	for _, log := range s.logs {
		if log.ResourceType == resourceType {
			copied := *log
			logs = append(logs, &copied)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartedAt.After(logs[j].StartedAt)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *memoryStore) MarkStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, log := range s.logs {
		if (log.Status == store.SyncStatusPending || log.Status == store.SyncStatusRunning) &&
			log.StartedAt.Before(cutoff) {
			log.Status = store.SyncStatusFailed
			log.Errors = append(log.Errors, store.SyncError{Code: store.ErrCodeInterrupted})
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) UpsertProgress(ctx context.Context, p *store.SyncProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.progress[p.RunID+"|"+p.Account] = &copied
	return nil
}

func (s *memoryStore) GetProgress(ctx context.Context, runID string) ([]*store.SyncProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.SyncProgress
	for _, p := range s.progress {
		if p.RunID == runID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// scriptedSource serves pre-scripted pages per account. When blocking is
// set, every call hangs until the context is cancelled, which is how the
// timeout and mutual-exclusion tests simulate a marketplace that never
// answers.
type scriptedSource struct {
	mu       sync.Mutex
	pages    map[marketplace.Account][]scriptedPage
	blocking bool
	calls    int
}

type scriptedPage struct {
	records []marketplace.RemoteRecord
	err     error
}

func (s *scriptedSource) FetchPage(ctx context.Context, account marketplace.Account, resource marketplace.ResourceType, page, pageSize int, filters map[string]string) (*marketplace.PageResult, error) {
	s.mu.Lock()
	s.calls++
	blocking := s.blocking
	script := s.pages[account]
	s.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if page > len(script) {
		return &marketplace.PageResult{Page: page}, nil
	}

	p := script[page-1]
	if p.err != nil {
		return nil, p.err
	}

	records := make([]marketplace.RemoteRecord, len(p.records))
	copy(records, p.records)
	for i := range records {
		records[i].Account = account
	}

	return &marketplace.PageResult{
		Page:    page,
		Records: records,
		HasMore: len(records) == pageSize,
	}, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func record(key string, price float64) marketplace.RemoteRecord {
	return marketplace.RemoteRecord{
		BusinessKey: key,
		Price:       price,
		Stock:       10,
		Status:      "active",
		UpdatedAt:   time.Now().UTC(),
	}
}
