package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryVelocityCounts(t *testing.T) {
	v := NewMemoryVelocity()
	ctx := context.Background()
	customer := uuid.New()

	require.NoError(t, v.Record(ctx, customer, 1_000))
	require.NoError(t, v.Record(ctx, customer, 2_500))

	counts, err := v.Counts(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, VelocityCounts{
		HourlyCount:  2,
		DailyCount:   2,
		HourlyAmount: 3_500,
		DailyAmount:  3_500,
	}, counts)

	// Counters are per customer.
	other, err := v.Counts(ctx, uuid.New())
	require.NoError(t, err)
	require.Equal(t, VelocityCounts{}, other)
}

func TestMemoryVelocityWindowExpiry(t *testing.T) {
	v := NewMemoryVelocity()
	ctx := context.Background()
	customer := uuid.New()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }

	require.NoError(t, v.Record(ctx, customer, 5_000))

	// Past the hourly window the hourly counters reset, the daily ones hold.
	now = base.Add(hourlyWindow + time.Minute)
	counts, err := v.Counts(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, int64(0), counts.HourlyCount)
	require.Equal(t, int64(0), counts.HourlyAmount)
	require.Equal(t, int64(1), counts.DailyCount)
	require.Equal(t, int64(5_000), counts.DailyAmount)

	// Past the daily window everything resets.
	now = base.Add(dailyWindow + time.Minute)
	counts, err = v.Counts(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, VelocityCounts{}, counts)
}

func TestMemoryVelocityDeviceUsers(t *testing.T) {
	v := NewMemoryVelocity()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	users, isNew, err := v.DeviceUsers(ctx, "fp-1", a)
	require.NoError(t, err)
	require.Equal(t, int64(1), users)
	require.True(t, isNew)

	users, isNew, err = v.DeviceUsers(ctx, "fp-1", a)
	require.NoError(t, err)
	require.Equal(t, int64(1), users)
	require.False(t, isNew)

	users, isNew, err = v.DeviceUsers(ctx, "fp-1", b)
	require.NoError(t, err)
	require.Equal(t, int64(2), users)
	require.True(t, isNew)

	// An empty fingerprint is treated as an unseen device.
	users, isNew, err = v.DeviceUsers(ctx, "", a)
	require.NoError(t, err)
	require.Equal(t, int64(0), users)
	require.True(t, isNew)
}
