// Package fraud scores payment intents before any money moves. Scoring is
// deterministic given the same inputs; lookups that fail degrade to a
// conservative medium-risk assessment instead of blocking the payment path.
package fraud

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/domain"
)

// Factor weights. They sum to 1 so the overall score stays in [0,1].
const (
	weightMethod   = 0.25
	weightBehavior = 0.20
	weightAmount   = 0.15
	weightGeo      = 0.15
	weightVelocity = 0.15
	weightDevice   = 0.10
)

// Risk level thresholds on the overall score.
const (
	highRiskThreshold   = 0.8
	mediumRiskThreshold = 0.3
)

// Input is everything the gate looks at for one payment attempt.
type Input struct {
	CustomerID        uuid.UUID
	Amount            int64
	Currency          string
	PaymentMethod     string
	IPAddress         string
	BillingCountry    string
	DeviceFingerprint string
}

// Assessment is the gate's verdict. All six factor scores are kept so the
// analysis row can be persisted alongside the intent.
type Assessment struct {
	Method   float64
	Behavior float64
	Amount   float64
	Geo      float64
	Velocity float64
	Device   float64

	Overall        float64
	RiskLevel      string
	Recommendation string
	RequiresReview bool
}

// Limits bound per-customer payment velocity.
type Limits struct {
	HourlyCount  int64
	DailyCount   int64
	HourlyAmount int64
	DailyAmount  int64
}

// Gate evaluates payment attempts against history and geo signals.
type Gate struct {
	history History
	geo     GeoResolver
	limits  Limits
}

// NewGate wires a gate from its collaborators.
func NewGate(history History, geo GeoResolver, limits Limits) *Gate {
	return &Gate{history: history, geo: geo, limits: limits}
}

// Evaluate scores an attempt. Lookup failures never surface as errors: the
// gate falls back to medium risk with a manual-review flag so a degraded
// Redis or geo backend cannot silently approve risky traffic.
func (g *Gate) Evaluate(ctx context.Context, in Input) Assessment {
	stats, err := g.history.UserStats(ctx, in.CustomerID)
	if err != nil {
		zap.L().Warn("fraud user stats lookup failed, failing safe",
			zap.String("customer_id", in.CustomerID.String()), zap.Error(err))
		return failSafe()
	}
	vel, err := g.history.VelocityCounts(ctx, in.CustomerID)
	if err != nil {
		zap.L().Warn("fraud velocity lookup failed, failing safe",
			zap.String("customer_id", in.CustomerID.String()), zap.Error(err))
		return failSafe()
	}
	deviceUsers, deviceNew, err := g.history.DeviceUsers(ctx, in.DeviceFingerprint, in.CustomerID)
	if err != nil {
		zap.L().Warn("fraud device lookup failed, failing safe",
			zap.String("customer_id", in.CustomerID.String()), zap.Error(err))
		return failSafe()
	}

	a := Assessment{
		Method:   methodScore(in.PaymentMethod),
		Behavior: behaviorScore(stats),
		Amount:   amountScore(in.Amount),
		Geo:      g.geoScore(ctx, in),
		Velocity: velocityScore(vel, in.Amount, g.limits),
		Device:   deviceScore(deviceUsers, deviceNew),
	}

	a.Overall = clamp(a.Method*weightMethod +
		a.Behavior*weightBehavior +
		a.Amount*weightAmount +
		a.Geo*weightGeo +
		a.Velocity*weightVelocity +
		a.Device*weightDevice)

	switch {
	case a.Overall >= highRiskThreshold:
		a.RiskLevel = domain.RiskLevelHigh
	case a.Overall >= mediumRiskThreshold:
		a.RiskLevel = domain.RiskLevelMedium
	default:
		a.RiskLevel = domain.RiskLevelLow
	}

	switch {
	case a.RiskLevel == domain.RiskLevelHigh && (a.Velocity > 0.8 || a.Geo > 0.8):
		a.Recommendation = domain.RecommendationBlock
	case a.RiskLevel == domain.RiskLevelHigh:
		a.Recommendation = domain.RecommendationReview
	case a.RiskLevel == domain.RiskLevelMedium && (a.Behavior > 0.7 || a.Method > 0.7):
		a.Recommendation = domain.RecommendationReview
	default:
		a.Recommendation = domain.RecommendationApprove
	}

	a.RequiresReview = a.RiskLevel == domain.RiskLevelHigh ||
		a.Behavior > 0.8 ||
		a.Velocity > 0.8 ||
		(a.Geo > 0.7 && a.Method > 0.5)

	return a
}

// Record notes a payment attempt in the velocity counters. Called after the
// assessment so the current attempt does not count against itself.
func (g *Gate) Record(ctx context.Context, in Input) {
	if err := g.history.RecordAttempt(ctx, in.CustomerID, in.Amount); err != nil {
		zap.L().Warn("fraud velocity record failed",
			zap.String("customer_id", in.CustomerID.String()), zap.Error(err))
	}
}

func failSafe() Assessment {
	return Assessment{
		Method:         0.5,
		Behavior:       0.5,
		Amount:         0.5,
		Geo:            0.5,
		Velocity:       0.5,
		Device:         0.5,
		Overall:        0.5,
		RiskLevel:      domain.RiskLevelMedium,
		Recommendation: domain.RecommendationReview,
		RequiresReview: true,
	}
}

func methodScore(method string) float64 {
	switch method {
	case "card":
		return 0.2
	case "bank_transfer":
		return 0.1
	case "wallet":
		return 0.3
	case "prepaid_card":
		return 0.7
	case "crypto":
		return 0.9
	default:
		return 0.5
	}
}

func amountScore(amount int64) float64 {
	switch {
	case amount <= 20_000:
		return 0.1
	case amount <= 50_000:
		return 0.3
	case amount <= 100_000:
		return 0.6
	default:
		return 0.9
	}
}

func behaviorScore(stats UserStats) float64 {
	switch {
	case stats.TotalCount == 0:
		return 0.6
	case stats.FailedCount > 0 && float64(stats.FailedCount)/float64(stats.TotalCount) > 0.5:
		return 0.8
	case stats.TotalCount > 20:
		return 0.1
	case stats.TotalCount > 5:
		return 0.2
	default:
		return 0.4
	}
}

func (g *Gate) geoScore(ctx context.Context, in Input) float64 {
	info, err := g.geo.Resolve(ctx, in.IPAddress)
	if err != nil || !info.Known {
		return 0.5
	}
	switch {
	case info.HighRisk:
		return 0.9
	case in.BillingCountry != "" && info.Country != in.BillingCountry:
		return 0.7
	default:
		return 0.1
	}
}

func velocityScore(v VelocityCounts, amount int64, limits Limits) float64 {
	switch {
	case v.HourlyCount >= limits.HourlyCount,
		v.HourlyAmount+amount > limits.HourlyAmount:
		return 0.9
	case v.DailyCount >= limits.DailyCount,
		v.DailyAmount+amount > limits.DailyAmount:
		return 0.7
	case float64(v.HourlyCount) >= 0.8*float64(limits.HourlyCount):
		return 0.5
	default:
		return 0.1
	}
}

func deviceScore(users int64, isNew bool) float64 {
	switch {
	case users > 3:
		return 0.8
	case isNew:
		return 0.4
	default:
		return 0.1
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
