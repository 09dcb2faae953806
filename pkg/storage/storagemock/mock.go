package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetLatestRecord(ctx context.Context) (*types.HourlyRecord, error) {
	args := m.Called(ctx)
	rec, _ := args.Get(0).(*types.HourlyRecord)
	return rec, args.Error(1)
}

func (m *MockDatabase) GetRecordRange(ctx context.Context, start, end time.Time) ([]types.HourlyRecord, error) {
	args := m.Called(ctx, start, end)
	recs, _ := args.Get(0).([]types.HourlyRecord)
	return recs, args.Error(1)
}

func (m *MockDatabase) PutRecord(ctx context.Context, rec types.HourlyRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
