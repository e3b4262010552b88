package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagepay/settlement-engine/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is the Postgres implementation of Store backed by a pgx pool.
type PgStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPgStore creates a store wrapper around a pgx connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

// EnsureSchema applies the embedded DDL. Statements are idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx executes fn within a database transaction. When already inside a
// transaction the same scope is reused.
func (s *PgStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func mapNoRows(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireExactlyOne(tag pgconn.CommandTag, op string) error {
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s affected %d rows", op, tag.RowsAffected())
	}
	return nil
}

const intentColumns = `id, delivery_id, gateway_intent_id, amount, currency, status, customer_id,
	traveler_id, platform_fee, processing_fee, insurance_fee, total_fees, risk_score, risk_level,
	failure_reason, created_at, updated_at`

func scanIntent(row pgx.Row) (*models.PaymentIntent, error) {
	var pi models.PaymentIntent
	err := row.Scan(&pi.ID, &pi.DeliveryID, &pi.GatewayIntentID, &pi.Amount, &pi.Currency, &pi.Status,
		&pi.CustomerID, &pi.TravelerID, &pi.PlatformFee, &pi.ProcessingFee, &pi.InsuranceFee,
		&pi.TotalFees, &pi.RiskScore, &pi.RiskLevel, &pi.FailureReason, &pi.CreatedAt, &pi.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pi, nil
}

func (s *PgStore) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `INSERT INTO payment_intents (id, delivery_id, gateway_intent_id, amount, currency, status,
			customer_id, traveler_id, platform_fee, processing_fee, insurance_fee, total_fees,
			risk_score, risk_level, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
		RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query, intent.ID, intent.DeliveryID, intent.GatewayIntentID, intent.Amount,
		intent.Currency, intent.Status, intent.CustomerID, intent.TravelerID, intent.PlatformFee,
		intent.ProcessingFee, intent.InsuranceFee, intent.TotalFees, intent.RiskScore, intent.RiskLevel).
		Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}
	return nil
}

func (s *PgStore) GetPaymentIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	pi, err := scanIntent(s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err, "get payment intent")
	}
	return pi, nil
}

func (s *PgStore) GetPaymentIntentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	pi, err := scanIntent(s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapNoRows(err, "lock payment intent")
	}
	return pi, nil
}

func (s *PgStore) GetPaymentIntentByGatewayID(ctx context.Context, gatewayID string) (*models.PaymentIntent, error) {
	pi, err := scanIntent(s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE gateway_intent_id = $1`, gatewayID))
	if err != nil {
		return nil, mapNoRows(err, "get payment intent by gateway id")
	}
	return pi, nil
}

func (s *PgStore) GetPaymentIntentByGatewayIDForUpdate(ctx context.Context, gatewayID string) (*models.PaymentIntent, error) {
	pi, err := scanIntent(s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE gateway_intent_id = $1 FOR UPDATE`, gatewayID))
	if err != nil {
		return nil, mapNoRows(err, "lock payment intent by gateway id")
	}
	return pi, nil
}

func (s *PgStore) UpdatePaymentIntentStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payment_intents SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = NOW() WHERE id = $3`,
		status, failureReason, id)
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	return requireExactlyOne(tag, "update payment intent status")
}

func (s *PgStore) ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int32) ([]models.PaymentIntent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE status NOT IN ('succeeded','failed','canceled') AND updated_at < $1
		 ORDER BY updated_at LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payment intents: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentIntent
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale payment intent: %w", err)
		}
		out = append(out, *pi)
	}
	return out, rows.Err()
}

func (s *PgStore) CreateFraudAnalysis(ctx context.Context, a *models.FraudAnalysis) error {
	query := `INSERT INTO fraud_analyses (id, payment_intent_id, method_score, behavior_score, amount_score,
			geo_score, velocity_score, device_score, overall_score, risk_level, recommendation,
			requires_review, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING created_at`
	err := s.db.QueryRow(ctx, query, a.ID, a.PaymentIntentID, a.MethodScore, a.BehaviorScore, a.AmountScore,
		a.GeoScore, a.VelocityScore, a.DeviceScore, a.OverallScore, a.RiskLevel, a.Recommendation,
		a.RequiresReview).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create fraud analysis: %w", err)
	}
	return nil
}

func (s *PgStore) GetFraudAnalysisByIntent(ctx context.Context, intentID uuid.UUID) (*models.FraudAnalysis, error) {
	var a models.FraudAnalysis
	err := s.db.QueryRow(ctx,
		`SELECT id, payment_intent_id, method_score, behavior_score, amount_score, geo_score,
			velocity_score, device_score, overall_score, risk_level, recommendation, requires_review,
			reviewed_by, review_decision, reviewed_at, created_at
		 FROM fraud_analyses WHERE payment_intent_id = $1`, intentID).
		Scan(&a.ID, &a.PaymentIntentID, &a.MethodScore, &a.BehaviorScore, &a.AmountScore, &a.GeoScore,
			&a.VelocityScore, &a.DeviceScore, &a.OverallScore, &a.RiskLevel, &a.Recommendation,
			&a.RequiresReview, &a.ReviewedBy, &a.ReviewDecision, &a.ReviewedAt, &a.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err, "get fraud analysis")
	}
	return &a, nil
}

func (s *PgStore) UserPaymentStats(ctx context.Context, customerID uuid.UUID) (UserPaymentStats, error) {
	var stats UserPaymentStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at)
		 FROM payment_intents WHERE customer_id = $1`, customerID).
		Scan(&stats.TotalCount, &stats.SucceededCount, &stats.FailedCount, &stats.FirstPaymentAt)
	if err != nil {
		return UserPaymentStats{}, fmt.Errorf("user payment stats: %w", err)
	}
	return stats, nil
}

const escrowColumns = `id, payment_intent_id, amount, currency, status, hold_until, release_condition,
	auto_release_enabled, released_amount, deducted_amount, release_reason, released_at,
	dispute_reason, dispute_evidence, disputed_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.EscrowAccount, error) {
	var e models.EscrowAccount
	err := row.Scan(&e.ID, &e.PaymentIntentID, &e.Amount, &e.Currency, &e.Status, &e.HoldUntil,
		&e.ReleaseCondition, &e.AutoReleaseEnabled, &e.ReleasedAmount, &e.DeductedAmount,
		&e.ReleaseReason, &e.ReleasedAt, &e.DisputeReason, &e.DisputeEvidence, &e.DisputedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PgStore) CreateEscrowAccount(ctx context.Context, e *models.EscrowAccount) error {
	query := `INSERT INTO escrow_accounts (id, payment_intent_id, amount, currency, status, hold_until,
			release_condition, auto_release_enabled, released_amount, deducted_amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query, e.ID, e.PaymentIntentID, e.Amount, e.Currency, e.Status, e.HoldUntil,
		e.ReleaseCondition, e.AutoReleaseEnabled, e.ReleasedAmount, e.DeductedAmount).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create escrow account: %w", err)
	}
	return nil
}

func (s *PgStore) GetEscrowAccount(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	e, err := scanEscrow(s.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err, "get escrow account")
	}
	return e, nil
}

func (s *PgStore) GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	e, err := scanEscrow(s.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapNoRows(err, "lock escrow account")
	}
	return e, nil
}

func (s *PgStore) GetEscrowByPaymentIntent(ctx context.Context, intentID uuid.UUID) (*models.EscrowAccount, error) {
	e, err := scanEscrow(s.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE payment_intent_id = $1`, intentID))
	if err != nil {
		return nil, mapNoRows(err, "get escrow by payment intent")
	}
	return e, nil
}

func (s *PgStore) UpdateEscrowAccount(ctx context.Context, e *models.EscrowAccount) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE escrow_accounts SET status = $1, released_amount = $2, deducted_amount = $3,
			release_reason = $4, released_at = $5, dispute_reason = $6, dispute_evidence = $7,
			disputed_at = $8, updated_at = NOW()
		 WHERE id = $9`,
		e.Status, e.ReleasedAmount, e.DeductedAmount, e.ReleaseReason, e.ReleasedAt,
		e.DisputeReason, e.DisputeEvidence, e.DisputedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update escrow account: %w", err)
	}
	return requireExactlyOne(tag, "update escrow account")
}

func (s *PgStore) ListAutoReleasableEscrows(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM escrow_accounts
		 WHERE status = 'held' AND auto_release_enabled AND hold_until <= $1
		 ORDER BY hold_until LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list auto releasable escrows: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan escrow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const payoutAccountColumns = `id, traveler_id, gateway_account_id, currency, verified, active,
	payouts_enabled, created_at, updated_at`

func scanPayoutAccount(row pgx.Row) (*models.PayoutAccount, error) {
	var a models.PayoutAccount
	err := row.Scan(&a.ID, &a.TravelerID, &a.GatewayAccountID, &a.Currency, &a.Verified, &a.Active,
		&a.PayoutsEnabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PgStore) CreatePayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	query := `INSERT INTO payout_accounts (id, traveler_id, gateway_account_id, currency, verified, active,
			payouts_enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query, a.ID, a.TravelerID, a.GatewayAccountID, a.Currency, a.Verified,
		a.Active, a.PayoutsEnabled).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payout account: %w", err)
	}
	return nil
}

func (s *PgStore) GetPayoutAccountByTraveler(ctx context.Context, travelerID uuid.UUID) (*models.PayoutAccount, error) {
	a, err := scanPayoutAccount(s.db.QueryRow(ctx, `SELECT `+payoutAccountColumns+` FROM payout_accounts WHERE traveler_id = $1`, travelerID))
	if err != nil {
		return nil, mapNoRows(err, "get payout account by traveler")
	}
	return a, nil
}

func (s *PgStore) GetPayoutAccountByGatewayID(ctx context.Context, gatewayAccountID string) (*models.PayoutAccount, error) {
	a, err := scanPayoutAccount(s.db.QueryRow(ctx, `SELECT `+payoutAccountColumns+` FROM payout_accounts WHERE gateway_account_id = $1`, gatewayAccountID))
	if err != nil {
		return nil, mapNoRows(err, "get payout account by gateway id")
	}
	return a, nil
}

func (s *PgStore) UpdatePayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payout_accounts SET currency = $1, verified = $2, active = $3, payouts_enabled = $4,
			updated_at = NOW() WHERE id = $5`,
		a.Currency, a.Verified, a.Active, a.PayoutsEnabled, a.ID)
	if err != nil {
		return fmt.Errorf("update payout account: %w", err)
	}
	return requireExactlyOne(tag, "update payout account")
}

const payoutColumns = `id, traveler_id, payout_account_id, escrow_account_id, amount, fee, net_amount,
	currency, type, status, gateway_payout_id, arrival_estimate, arrived_at, failure_reason,
	created_at, updated_at`

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	err := row.Scan(&p.ID, &p.TravelerID, &p.PayoutAccountID, &p.EscrowAccountID, &p.Amount, &p.Fee,
		&p.NetAmount, &p.Currency, &p.Type, &p.Status, &p.GatewayPayoutID, &p.ArrivalEstimate,
		&p.ArrivedAt, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) CreatePayout(ctx context.Context, p *models.Payout) error {
	query := `INSERT INTO payouts (id, traveler_id, payout_account_id, escrow_account_id, amount, fee,
			net_amount, currency, type, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query, p.ID, p.TravelerID, p.PayoutAccountID, p.EscrowAccountID, p.Amount,
		p.Fee, p.NetAmount, p.Currency, p.Type, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}

func (s *PgStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err, "get payout")
	}
	return p, nil
}

func (s *PgStore) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapNoRows(err, "lock payout")
	}
	return p, nil
}

func (s *PgStore) GetPayoutByGatewayIDForUpdate(ctx context.Context, gatewayPayoutID string) (*models.Payout, error) {
	p, err := scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE gateway_payout_id = $1 FOR UPDATE`, gatewayPayoutID))
	if err != nil {
		return nil, mapNoRows(err, "lock payout by gateway id")
	}
	return p, nil
}

func (s *PgStore) UpdatePayout(ctx context.Context, p *models.Payout) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payouts SET status = $1, gateway_payout_id = $2, arrival_estimate = $3, arrived_at = $4,
			failure_reason = $5, updated_at = NOW() WHERE id = $6`,
		p.Status, p.GatewayPayoutID, p.ArrivalEstimate, p.ArrivedAt, p.FailureReason, p.ID)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	return requireExactlyOne(tag, "update payout")
}

func (s *PgStore) CreateRefund(ctx context.Context, r *models.Refund) error {
	query := `INSERT INTO refunds (id, payment_intent_id, amount, currency, reason, status,
			customer_refund, traveler_compensation, platform_fee_refund, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING created_at`
	err := s.db.QueryRow(ctx, query, r.ID, r.PaymentIntentID, r.Amount, r.Currency, r.Reason, r.Status,
		r.CustomerRefund, r.TravelerCompensation, r.PlatformFeeRefund).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func (s *PgStore) AppendTransactionLog(ctx context.Context, row *models.TransactionLog) error {
	query := `INSERT INTO transaction_logs (id, payment_intent_id, escrow_account_id, payout_id, refund_id,
			type, category, amount, currency, status, from_ref, to_ref, gateway_ref, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()) RETURNING processed_at`
	err := s.db.QueryRow(ctx, query, row.ID, row.PaymentIntentID, row.EscrowAccountID, row.PayoutID,
		row.RefundID, row.Type, row.Category, row.Amount, row.Currency, row.Status, row.FromRef,
		row.ToRef, row.GatewayRef).Scan(&row.ProcessedAt)
	if err != nil {
		return fmt.Errorf("append transaction log: %w", err)
	}
	return nil
}

func (s *PgStore) ListTransactionLogsByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, payment_intent_id, escrow_account_id, payout_id, refund_id, type, category, amount,
			currency, status, from_ref, to_ref, gateway_ref, processed_at
		 FROM transaction_logs WHERE payment_intent_id = $1 ORDER BY processed_at`, intentID)
	if err != nil {
		return nil, fmt.Errorf("list transaction logs: %w", err)
	}
	defer rows.Close()

	var out []models.TransactionLog
	for rows.Next() {
		var t models.TransactionLog
		if err := rows.Scan(&t.ID, &t.PaymentIntentID, &t.EscrowAccountID, &t.PayoutID, &t.RefundID,
			&t.Type, &t.Category, &t.Amount, &t.Currency, &t.Status, &t.FromRef, &t.ToRef,
			&t.GatewayRef, &t.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan transaction log: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
