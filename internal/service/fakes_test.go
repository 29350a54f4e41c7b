package service

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/repository"
	"github.com/google/uuid"
)

type memoryKeyStore struct {
	mu          sync.Mutex
	keys        map[uuid.UUID]*models.APIKey
	hashLookups int
}

func newMemoryKeyStore() *memoryKeyStore {
	return &memoryKeyStore{keys: map[uuid.UUID]*models.APIKey{}}
}

func (m *memoryKeyStore) Create(ctx context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	k.CreatedAt = time.Now()
	copied := *k
	m.keys[k.ID] = &copied
	return nil
}

func (m *memoryKeyStore) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashLookups++
	for _, k := range m.keys {
		if k.KeyHash == hash && k.IsActive {
			copied := *k
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryKeyStore) FindByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		copied := *k
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryKeyStore) List(ctx context.Context) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (m *memoryKeyStore) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil
	}
	if tier, ok := updates["tier"].(string); ok {
		k.Tier = tier
	}
	if active, ok := updates["is_active"].(bool); ok {
		k.IsActive = active
	}
	return nil
}

func (m *memoryKeyStore) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func (m *memoryKeyStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *memoryKeyStore) CountActive(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range m.keys {
		if k.IsActive {
			n++
		}
	}
	return n, nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.values[key] = string(v)
	case string:
		c.values[key] = v
	}
	return nil
}

func (c *memoryCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

// Call log reader answering from a fixed slice
type memoryCallLogs struct {
	mu      sync.Mutex
	logs    []models.CallLog
	batches [][]*models.CallLog
	deleted time.Time
}

func (m *memoryCallLogs) CreateBatch(ctx context.Context, logs []*models.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, logs)
	for _, l := range logs {
		m.logs = append(m.logs, *l)
	}
	return nil
}

func (m *memoryCallLogs) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *memoryCallLogs) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

func (m *memoryCallLogs) matching(from, to time.Time, apiKeyID *uuid.UUID) []models.CallLog {
	var out []models.CallLog
	for _, l := range m.logs {
		if l.Timestamp.Before(from) || l.Timestamp.After(to) {
			continue
		}
		if apiKeyID != nil && (l.APIKeyID == nil || *l.APIKeyID != *apiKeyID) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (m *memoryCallLogs) Find(ctx context.Context, f repository.CallLogFilter) ([]models.CallLog, error) {
	out := m.matching(f.From, f.To, f.APIKeyID)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryCallLogs) Count(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	return int64(len(m.matching(from, to, apiKeyID))), nil
}

func (m *memoryCallLogs) CountByStatusRange(ctx context.Context, lo, hi int, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	var n int64
	for _, l := range m.matching(from, to, apiKeyID) {
		if l.StatusCode >= lo && l.StatusCode <= hi {
			n++
		}
	}
	return n, nil
}

func (m *memoryCallLogs) AverageResponseTime(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (float64, error) {
	logs := m.matching(from, to, apiKeyID)
	if len(logs) == 0 {
		return 0, nil
	}
	var sum int
	for _, l := range logs {
		sum += l.ResponseTimeMs
	}
	return float64(sum) / float64(len(logs)), nil
}

func (m *memoryCallLogs) Percentile(ctx context.Context, from, to time.Time, p float64) (float64, error) {
	return 0, nil
}

func (m *memoryCallLogs) TopRoutes(ctx context.Context, from, to time.Time, limit int) ([]repository.RouteCount, error) {
	counts := map[string]int64{}
	for _, l := range m.matching(from, to, nil) {
		counts[l.Route]++
	}
	var out []repository.RouteCount
	for route, n := range counts {
		out = append(out, repository.RouteCount{Route: route, Count: n})
	}
	return out, nil
}

func (m *memoryCallLogs) Hourly(ctx context.Context, from, to time.Time) ([]repository.HourlyStat, error) {
	return nil, nil
}

func (m *memoryCallLogs) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = before
	var kept []models.CallLog
	var n int64
	for _, l := range m.logs {
		if l.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return n, nil
}
