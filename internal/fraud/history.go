package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/voyagepay/settlement-engine/internal/repository"
)

// UserStats summarizes a customer's payment track record.
type UserStats struct {
	TotalCount     int64
	SucceededCount int64
	FailedCount    int64
	FirstPaymentAt *time.Time
}

// VelocityCounts are the rolling attempt counters for one customer.
type VelocityCounts struct {
	HourlyCount  int64
	DailyCount   int64
	HourlyAmount int64
	DailyAmount  int64
}

// History supplies the behavioral signals the gate scores against.
type History interface {
	UserStats(ctx context.Context, customerID uuid.UUID) (UserStats, error)
	VelocityCounts(ctx context.Context, customerID uuid.UUID) (VelocityCounts, error)
	RecordAttempt(ctx context.Context, customerID uuid.UUID, amount int64) error
	// DeviceUsers returns how many distinct customers have used the
	// fingerprint and whether this customer is new to it.
	DeviceUsers(ctx context.Context, fingerprint string, customerID uuid.UUID) (int64, bool, error)
}

// GeoInfo is a resolved IP location. Known is false when the resolver has no
// data for the address, which the gate treats as a mild risk signal.
type GeoInfo struct {
	Country  string
	HighRisk bool
	Known    bool
}

// GeoResolver maps an IP address to a location verdict.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (GeoInfo, error)
}

// StaticGeoResolver resolves from a fixed IP-to-country table. Production
// wires an upstream geo service behind the same interface; this covers dev
// and test environments.
type StaticGeoResolver struct {
	Countries map[string]string
	HighRisk  map[string]bool
}

func (r StaticGeoResolver) Resolve(_ context.Context, ip string) (GeoInfo, error) {
	country, ok := r.Countries[ip]
	if !ok {
		return GeoInfo{}, nil
	}
	return GeoInfo{Country: country, HighRisk: r.HighRisk[country], Known: true}, nil
}

// StoreHistory reads user stats from the repository and delegates the rolling
// counters to a velocity tracker.
type StoreHistory struct {
	store   repository.Store
	tracker VelocityTracker
}

// NewStoreHistory builds the production History implementation.
func NewStoreHistory(store repository.Store, tracker VelocityTracker) *StoreHistory {
	return &StoreHistory{store: store, tracker: tracker}
}

func (h *StoreHistory) UserStats(ctx context.Context, customerID uuid.UUID) (UserStats, error) {
	s, err := h.store.UserPaymentStats(ctx, customerID)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{
		TotalCount:     s.TotalCount,
		SucceededCount: s.SucceededCount,
		FailedCount:    s.FailedCount,
		FirstPaymentAt: s.FirstPaymentAt,
	}, nil
}

func (h *StoreHistory) VelocityCounts(ctx context.Context, customerID uuid.UUID) (VelocityCounts, error) {
	return h.tracker.Counts(ctx, customerID)
}

func (h *StoreHistory) RecordAttempt(ctx context.Context, customerID uuid.UUID, amount int64) error {
	return h.tracker.Record(ctx, customerID, amount)
}

func (h *StoreHistory) DeviceUsers(ctx context.Context, fingerprint string, customerID uuid.UUID) (int64, bool, error) {
	return h.tracker.DeviceUsers(ctx, fingerprint, customerID)
}

var _ History = (*StoreHistory)(nil)
