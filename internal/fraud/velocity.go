package fraud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// VelocityTracker keeps rolling per-customer attempt counters and per-device
// customer sets.
type VelocityTracker interface {
	Counts(ctx context.Context, customerID uuid.UUID) (VelocityCounts, error)
	Record(ctx context.Context, customerID uuid.UUID, amount int64) error
	DeviceUsers(ctx context.Context, fingerprint string, customerID uuid.UUID) (int64, bool, error)
}

const (
	hourlyWindow = time.Hour
	dailyWindow  = 24 * time.Hour
	deviceTTL    = 30 * 24 * time.Hour
)

// RedisVelocity tracks counters in Redis. Keys expire with their window so
// the counters self-reset without a sweeper.
type RedisVelocity struct {
	rdb *redis.Client
}

// NewRedisVelocity builds a Redis-backed tracker.
func NewRedisVelocity(rdb *redis.Client) *RedisVelocity {
	return &RedisVelocity{rdb: rdb}
}

func velKey(window string, customerID uuid.UUID, kind string) string {
	return fmt.Sprintf("fraud:vel:%s:%s:%s", window, kind, customerID)
}

func deviceKey(fingerprint string) string {
	return "fraud:device:" + fingerprint
}

func (v *RedisVelocity) Counts(ctx context.Context, customerID uuid.UUID) (VelocityCounts, error) {
	var out VelocityCounts
	pipe := v.rdb.Pipeline()
	hc := pipe.Get(ctx, velKey("hour", customerID, "count"))
	dc := pipe.Get(ctx, velKey("day", customerID, "count"))
	ha := pipe.Get(ctx, velKey("hour", customerID, "amount"))
	da := pipe.Get(ctx, velKey("day", customerID, "amount"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return VelocityCounts{}, err
	}
	out.HourlyCount, _ = hc.Int64()
	out.DailyCount, _ = dc.Int64()
	out.HourlyAmount, _ = ha.Int64()
	out.DailyAmount, _ = da.Int64()
	return out, nil
}

func (v *RedisVelocity) Record(ctx context.Context, customerID uuid.UUID, amount int64) error {
	pipe := v.rdb.Pipeline()
	for _, w := range []struct {
		name string
		ttl  time.Duration
	}{{"hour", hourlyWindow}, {"day", dailyWindow}} {
		ck := velKey(w.name, customerID, "count")
		ak := velKey(w.name, customerID, "amount")
		pipe.Incr(ctx, ck)
		pipe.Expire(ctx, ck, w.ttl)
		pipe.IncrBy(ctx, ak, amount)
		pipe.Expire(ctx, ak, w.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (v *RedisVelocity) DeviceUsers(ctx context.Context, fingerprint string, customerID uuid.UUID) (int64, bool, error) {
	if fingerprint == "" {
		return 0, true, nil
	}
	key := deviceKey(fingerprint)
	added, err := v.rdb.SAdd(ctx, key, customerID.String()).Result()
	if err != nil {
		return 0, false, err
	}
	v.rdb.Expire(ctx, key, deviceTTL)
	users, err := v.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	return users, added == 1, nil
}

// MemoryVelocity is a process-local tracker for tests and single-node dev
// runs. Windows are approximated by bucketing on the window start.
type MemoryVelocity struct {
	mu      sync.Mutex
	now     func() time.Time
	counts  map[string]VelocityCounts
	hourAt  map[string]time.Time
	dayAt   map[string]time.Time
	devices map[string]map[uuid.UUID]struct{}
}

// NewMemoryVelocity builds an in-memory tracker.
func NewMemoryVelocity() *MemoryVelocity {
	return &MemoryVelocity{
		now:     time.Now,
		counts:  make(map[string]VelocityCounts),
		hourAt:  make(map[string]time.Time),
		dayAt:   make(map[string]time.Time),
		devices: make(map[string]map[uuid.UUID]struct{}),
	}
}

func (v *MemoryVelocity) expire(key string) {
	now := v.now()
	c := v.counts[key]
	if start, ok := v.hourAt[key]; ok && now.Sub(start) >= hourlyWindow {
		c.HourlyCount, c.HourlyAmount = 0, 0
		delete(v.hourAt, key)
	}
	if start, ok := v.dayAt[key]; ok && now.Sub(start) >= dailyWindow {
		c.DailyCount, c.DailyAmount = 0, 0
		delete(v.dayAt, key)
	}
	v.counts[key] = c
}

func (v *MemoryVelocity) Counts(_ context.Context, customerID uuid.UUID) (VelocityCounts, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := customerID.String()
	v.expire(key)
	return v.counts[key], nil
}

func (v *MemoryVelocity) Record(_ context.Context, customerID uuid.UUID, amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := customerID.String()
	v.expire(key)
	c := v.counts[key]
	if _, ok := v.hourAt[key]; !ok {
		v.hourAt[key] = v.now()
	}
	if _, ok := v.dayAt[key]; !ok {
		v.dayAt[key] = v.now()
	}
	c.HourlyCount++
	c.DailyCount++
	c.HourlyAmount += amount
	c.DailyAmount += amount
	v.counts[key] = c
	return nil
}

func (v *MemoryVelocity) DeviceUsers(_ context.Context, fingerprint string, customerID uuid.UUID) (int64, bool, error) {
	if fingerprint == "" {
		return 0, true, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, ok := v.devices[fingerprint]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		v.devices[fingerprint] = set
	}
	_, seen := set[customerID]
	set[customerID] = struct{}{}
	return int64(len(set)), !seen, nil
}

var (
	_ VelocityTracker = (*RedisVelocity)(nil)
	_ VelocityTracker = (*MemoryVelocity)(nil)
)
