package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// Memory is an in-process Database. It is used by tests and by local runs
// that don't need persistence.
type Memory struct {
	mu      sync.RWMutex
	records map[time.Time]types.HourlyRecord
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[time.Time]types.HourlyRecord)}
}

func cloneRecord(rec types.HourlyRecord) types.HourlyRecord {
	rec.Banks = append([]types.BankState(nil), rec.Banks...)
	return rec
}

func (m *Memory) PutRecord(ctx context.Context, rec types.HourlyRecord) error {
	if rec.Timestamp.IsZero() {
		return errors.New("record missing timestamp")
	}
	rec.Timestamp = types.TruncateHour(rec.Timestamp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Timestamp]; ok {
		return fmt.Errorf("record %s: %w", rec.Timestamp.Format(time.RFC3339), ErrRecordExists)
	}
	m.records[rec.Timestamp] = cloneRecord(rec)
	return nil
}

func (m *Memory) GetRecordRange(ctx context.Context, start, end time.Time) ([]types.HourlyRecord, error) {
	start, end = types.TruncateHour(start), types.TruncateHour(end)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []types.HourlyRecord
	for ts, rec := range m.records {
		if !ts.Before(start) && ts.Before(end) {
			recs = append(recs, cloneRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
	return recs, nil
}

func (m *Memory) GetLatestRecord(ctx context.Context) (*types.HourlyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *types.HourlyRecord
	for ts, rec := range m.records {
		if latest == nil || ts.After(latest.Timestamp) {
			r := cloneRecord(rec)
			latest = &r
		}
	}
	return latest, nil
}

func (m *Memory) Close() error {
	return nil
}
