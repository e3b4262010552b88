// Package memstore provides an in-memory repository.Store used by service
// tests and local experiments. RunInTx serializes whole transactions behind
// one mutex, which mirrors the row-lock discipline of the Postgres store
// closely enough to exercise the same idempotency and state-machine guards.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voyagepay/settlement-engine/internal/domain"
	"github.com/voyagepay/settlement-engine/internal/models"
	"github.com/voyagepay/settlement-engine/internal/repository"
)

type tables struct {
	intents          map[uuid.UUID]models.PaymentIntent
	intentsByGateway map[string]uuid.UUID
	frauds           map[uuid.UUID]models.FraudAnalysis
	escrows          map[uuid.UUID]models.EscrowAccount
	escrowByIntent   map[uuid.UUID]uuid.UUID
	accounts         map[uuid.UUID]models.PayoutAccount
	accountByOwner   map[uuid.UUID]uuid.UUID
	accountByGateway map[string]uuid.UUID
	payouts          map[uuid.UUID]models.Payout
	payoutByGateway  map[string]uuid.UUID
	refunds          map[uuid.UUID]models.Refund
	logs             []models.TransactionLog
}

func newTables() *tables {
	return &tables{
		intents:          make(map[uuid.UUID]models.PaymentIntent),
		intentsByGateway: make(map[string]uuid.UUID),
		frauds:           make(map[uuid.UUID]models.FraudAnalysis),
		escrows:          make(map[uuid.UUID]models.EscrowAccount),
		escrowByIntent:   make(map[uuid.UUID]uuid.UUID),
		accounts:         make(map[uuid.UUID]models.PayoutAccount),
		accountByOwner:   make(map[uuid.UUID]uuid.UUID),
		accountByGateway: make(map[string]uuid.UUID),
		payouts:          make(map[uuid.UUID]models.Payout),
		payoutByGateway:  make(map[string]uuid.UUID),
		refunds:          make(map[uuid.UUID]models.Refund),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.intents {
		c.intents[k] = v
	}
	for k, v := range t.intentsByGateway {
		c.intentsByGateway[k] = v
	}
	for k, v := range t.frauds {
		c.frauds[k] = v
	}
	for k, v := range t.escrows {
		c.escrows[k] = v
	}
	for k, v := range t.escrowByIntent {
		c.escrowByIntent[k] = v
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.accountByOwner {
		c.accountByOwner[k] = v
	}
	for k, v := range t.accountByGateway {
		c.accountByGateway[k] = v
	}
	for k, v := range t.payouts {
		c.payouts[k] = v
	}
	for k, v := range t.payoutByGateway {
		c.payoutByGateway[k] = v
	}
	for k, v := range t.refunds {
		c.refunds[k] = v
	}
	c.logs = append(c.logs, t.logs...)
	return c
}

// Store is the in-memory implementation of repository.Store.
type Store struct {
	mu   *sync.Mutex
	data *tables
	inTx bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newTables()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn under the store mutex with snapshot rollback on error.
func (s *Store) RunInTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	defer s.lock()()
	now := time.Now()
	intent.CreatedAt, intent.UpdatedAt = now, now
	s.data.intents[intent.ID] = *intent
	s.data.intentsByGateway[intent.GatewayIntentID] = intent.ID
	return nil
}

func (s *Store) getIntent(id uuid.UUID) (*models.PaymentIntent, error) {
	pi, ok := s.data.intents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := pi
	return &cp, nil
}

func (s *Store) GetPaymentIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	defer s.lock()()
	return s.getIntent(id)
}

func (s *Store) GetPaymentIntentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	defer s.lock()()
	return s.getIntent(id)
}

func (s *Store) GetPaymentIntentByGatewayID(ctx context.Context, gatewayID string) (*models.PaymentIntent, error) {
	defer s.lock()()
	id, ok := s.data.intentsByGateway[gatewayID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.getIntent(id)
}

func (s *Store) GetPaymentIntentByGatewayIDForUpdate(ctx context.Context, gatewayID string) (*models.PaymentIntent, error) {
	return s.GetPaymentIntentByGatewayID(ctx, gatewayID)
}

func (s *Store) UpdatePaymentIntentStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error {
	defer s.lock()()
	pi, ok := s.data.intents[id]
	if !ok {
		return repository.ErrNotFound
	}
	pi.Status = status
	if failureReason != nil {
		pi.FailureReason = failureReason
	}
	pi.UpdatedAt = time.Now()
	s.data.intents[id] = pi
	return nil
}

func (s *Store) ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int32) ([]models.PaymentIntent, error) {
	defer s.lock()()
	var out []models.PaymentIntent
	for _, pi := range s.data.intents {
		if int32(len(out)) >= limit {
			break
		}
		if domain.IntentTerminal(pi.Status) {
			continue
		}
		if pi.UpdatedAt.Before(olderThan) {
			out = append(out, pi)
		}
	}
	return out, nil
}

func (s *Store) CreateFraudAnalysis(ctx context.Context, a *models.FraudAnalysis) error {
	defer s.lock()()
	a.CreatedAt = time.Now()
	s.data.frauds[a.PaymentIntentID] = *a
	return nil
}

func (s *Store) GetFraudAnalysisByIntent(ctx context.Context, intentID uuid.UUID) (*models.FraudAnalysis, error) {
	defer s.lock()()
	a, ok := s.data.frauds[intentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := a
	return &cp, nil
}

func (s *Store) UserPaymentStats(ctx context.Context, customerID uuid.UUID) (repository.UserPaymentStats, error) {
	defer s.lock()()
	var stats repository.UserPaymentStats
	for _, pi := range s.data.intents {
		if pi.CustomerID != customerID {
			continue
		}
		stats.TotalCount++
		switch pi.Status {
		case domain.IntentStatusSucceeded:
			stats.SucceededCount++
		case domain.IntentStatusFailed:
			stats.FailedCount++
		}
		created := pi.CreatedAt
		if stats.FirstPaymentAt == nil || created.Before(*stats.FirstPaymentAt) {
			stats.FirstPaymentAt = &created
		}
	}
	return stats, nil
}

func (s *Store) CreateEscrowAccount(ctx context.Context, e *models.EscrowAccount) error {
	defer s.lock()()
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	s.data.escrows[e.ID] = *e
	s.data.escrowByIntent[e.PaymentIntentID] = e.ID
	return nil
}

func (s *Store) getEscrow(id uuid.UUID) (*models.EscrowAccount, error) {
	e, ok := s.data.escrows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (s *Store) GetEscrowAccount(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	defer s.lock()()
	return s.getEscrow(id)
}

func (s *Store) GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	defer s.lock()()
	return s.getEscrow(id)
}

func (s *Store) GetEscrowByPaymentIntent(ctx context.Context, intentID uuid.UUID) (*models.EscrowAccount, error) {
	defer s.lock()()
	id, ok := s.data.escrowByIntent[intentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.getEscrow(id)
}

func (s *Store) UpdateEscrowAccount(ctx context.Context, e *models.EscrowAccount) error {
	defer s.lock()()
	if _, ok := s.data.escrows[e.ID]; !ok {
		return repository.ErrNotFound
	}
	e.UpdatedAt = time.Now()
	s.data.escrows[e.ID] = *e
	return nil
}

func (s *Store) ListAutoReleasableEscrows(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	defer s.lock()()
	var ids []uuid.UUID
	for id, e := range s.data.escrows {
		if int32(len(ids)) >= limit {
			break
		}
		if e.Status == domain.EscrowStatusHeld && e.AutoReleaseEnabled && !e.HoldUntil.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) CreatePayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	defer s.lock()()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.data.accounts[a.ID] = *a
	s.data.accountByOwner[a.TravelerID] = a.ID
	s.data.accountByGateway[a.GatewayAccountID] = a.ID
	return nil
}

func (s *Store) GetPayoutAccountByTraveler(ctx context.Context, travelerID uuid.UUID) (*models.PayoutAccount, error) {
	defer s.lock()()
	id, ok := s.data.accountByOwner[travelerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a := s.data.accounts[id]
	return &a, nil
}

func (s *Store) GetPayoutAccountByGatewayID(ctx context.Context, gatewayAccountID string) (*models.PayoutAccount, error) {
	defer s.lock()()
	id, ok := s.data.accountByGateway[gatewayAccountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a := s.data.accounts[id]
	return &a, nil
}

func (s *Store) UpdatePayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	defer s.lock()()
	if _, ok := s.data.accounts[a.ID]; !ok {
		return repository.ErrNotFound
	}
	a.UpdatedAt = time.Now()
	s.data.accounts[a.ID] = *a
	return nil
}

func (s *Store) CreatePayout(ctx context.Context, p *models.Payout) error {
	defer s.lock()()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.data.payouts[p.ID] = *p
	return nil
}

func (s *Store) getPayout(id uuid.UUID) (*models.Payout, error) {
	p, ok := s.data.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	defer s.lock()()
	return s.getPayout(id)
}

func (s *Store) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	defer s.lock()()
	return s.getPayout(id)
}

func (s *Store) GetPayoutByGatewayIDForUpdate(ctx context.Context, gatewayPayoutID string) (*models.Payout, error) {
	defer s.lock()()
	id, ok := s.data.payoutByGateway[gatewayPayoutID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.getPayout(id)
}

func (s *Store) UpdatePayout(ctx context.Context, p *models.Payout) error {
	defer s.lock()()
	if _, ok := s.data.payouts[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	s.data.payouts[p.ID] = *p
	if p.GatewayPayoutID != nil {
		s.data.payoutByGateway[*p.GatewayPayoutID] = p.ID
	}
	return nil
}

func (s *Store) CreateRefund(ctx context.Context, r *models.Refund) error {
	defer s.lock()()
	r.CreatedAt = time.Now()
	s.data.refunds[r.ID] = *r
	return nil
}

func (s *Store) AppendTransactionLog(ctx context.Context, row *models.TransactionLog) error {
	defer s.lock()()
	row.ProcessedAt = time.Now()
	s.data.logs = append(s.data.logs, *row)
	return nil
}

func (s *Store) ListTransactionLogsByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionLog, error) {
	defer s.lock()()
	var out []models.TransactionLog
	for _, l := range s.data.logs {
		if l.PaymentIntentID != nil && *l.PaymentIntentID == intentID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Refunds returns all refund rows; test helper.
func (s *Store) Refunds() []models.Refund {
	defer s.lock()()
	out := make([]models.Refund, 0, len(s.data.refunds))
	for _, r := range s.data.refunds {
		out = append(out, r)
	}
	return out
}

// Payouts returns all payout rows; test helper.
func (s *Store) Payouts() []models.Payout {
	defer s.lock()()
	out := make([]models.Payout, 0, len(s.data.payouts))
	for _, p := range s.data.payouts {
		out = append(out, p)
	}
	return out
}

// Logs returns all transaction log rows; test helper.
func (s *Store) Logs() []models.TransactionLog {
	defer s.lock()()
	out := make([]models.TransactionLog, len(s.data.logs))
	copy(out, s.data.logs)
	return out
}

var _ repository.Store = (*Store)(nil)
