// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
	"mobile-iap-subscription/internal/domain/ports/repository"
)

// Compile-time checks
var (
	_ repository.SubscriptionRepository = (*memSubRepo)(nil)
	_ repository.UserRepository         = (*memUserRepo)(nil)
	_ repository.TransactionManager     = (*mockTxManager)(nil)
	_ adapter.ReceiptValidator          = (*mockValidator)(nil)
)

// memSubRepo is a small in-memory implementation used by unit tests. It
// enforces the same uniqueness rules as the Postgres schema: one subscription
// per billing key, one webhook log per event id.
type memSubRepo struct {
	mu   sync.RWMutex
	subs map[string]*model.Subscription // keyed by ID
	logs map[string]*model.WebhookLog   // keyed by EventID

	createErr  error // simulate storage failures
	updateErr  error
	createHook func(*model.Subscription) error // runs before the insert when set
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{
		subs: make(map[string]*model.Subscription),
		logs: make(map[string]*model.WebhookLog),
	}
}

func (m *memSubRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) FindByBillingKey(ctx context.Context, tx repository.Tx, billingKey string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if s.BillingKey == billingKey {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubRepo) FindExpired(ctx context.Context, tx repository.Tx, asOf time.Time) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		lapsable := s.Status == model.SubscriptionStatusActive || s.Status == model.SubscriptionStatusGracePeriod
		if lapsable && !s.ExpiresAt.After(asOf) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.createHook != nil {
		if err := m.createHook(s); err != nil {
			return err
		}
	}
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if existing.BillingKey == s.BillingKey {
			return domain.ErrAlreadyExists
		}
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *memSubRepo) Update(ctx context.Context, tx repository.Tx, id string, patch repository.SubscriptionPatch) (*model.Subscription, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.ExpiresAt != nil {
		s.ExpiresAt = *patch.ExpiresAt
	}
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.SubscriptionStatus]int)
	for _, s := range m.subs {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *memSubRepo) FindWebhookLog(ctx context.Context, tx repository.Tx, eventID string) (*model.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memSubRepo) CreateWebhookLog(ctx context.Context, tx repository.Tx, l *model.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.logs[l.EventID]; dup {
		return domain.ErrAlreadyExists
	}
	cp := *l
	m.logs[l.EventID] = &cp
	return nil
}

// snapshot/restore let the mock transaction manager emulate rollback.
func (m *memSubRepo) snapshot() (map[string]*model.Subscription, map[string]*model.WebhookLog) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make(map[string]*model.Subscription, len(m.subs))
	for k, v := range m.subs {
		cp := *v
		subs[k] = &cp
	}
	logs := make(map[string]*model.WebhookLog, len(m.logs))
	for k, v := range m.logs {
		cp := *v
		logs[k] = &cp
	}
	return subs, logs
}

func (m *memSubRepo) restore(subs map[string]*model.Subscription, logs map[string]*model.WebhookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = subs
	m.logs = logs
}

// memUserRepo holds users keyed by id.
type memUserRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.User
	updateErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) put(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.ID] = &cp
}

func (m *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) UpdateEntitlement(ctx context.Context, tx repository.Tx, userID string, tier model.AccountTier, expiresAt *time.Time) (*model.User, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		// verify may target a user this service has never seen; create the
		// minimal record like the accounts schema would already hold.
		u = &model.User{ID: userID, AccountTier: model.AccountTierFree, CreatedAt: time.Now()}
		m.store[userID] = u
	}
	u.AccountTier = tier
	if expiresAt != nil {
		t := *expiresAt
		u.SubscriptionExpiresAt = &t
	} else {
		u.SubscriptionExpiresAt = nil
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) snapshot() map[string]*model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.User, len(m.store))
	for k, v := range m.store {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (m *memUserRepo) restore(users map[string]*model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = users
}

// mockTxManager runs the callback against the in-memory repos and restores
// their state when the callback errors, mirroring a real rollback.
type mockTxManager struct {
	subs  *memSubRepo
	users *memUserRepo
}

func newMockTxManager(subs *memSubRepo, users *memUserRepo) *mockTxManager {
	return &mockTxManager{subs: subs, users: users}
}

func (m *mockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	subs, logs := m.subs.snapshot()
	users := m.users.snapshot()
	if err := fn(ctx, repository.NoTX); err != nil {
		m.subs.restore(subs, logs)
		m.users.restore(users)
		return err
	}
	return nil
}

// mockValidator returns a canned result or error.
type mockValidator struct {
	platform model.Platform
	result   *adapter.ValidationResult
	err      error
	calls    int
}

func (m *mockValidator) Platform() model.Platform { return m.platform }

func (m *mockValidator) ValidateReceipt(ctx context.Context, receipt, billingKey, productID string) (*adapter.ValidationResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &adapter.ValidationResult{BillingKey: billingKey, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}, nil
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
