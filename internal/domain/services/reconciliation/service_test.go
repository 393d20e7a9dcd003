package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
	"github.com/coinpay-service/coinpay_service/internal/domain/repositories"
	"github.com/coinpay-service/coinpay_service/pkg/metrics"
	"github.com/coinpay-service/coinpay_service/pkg/security"
)

// fakeTransactionRepository is an in-memory TransactionRepository whose
// TransitionFromPending has the same compare-and-set semantics as the SQL one.
type fakeTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*entities.Transaction
	transitions  int
	err          error
}

func newFakeTransactionRepository(txs ...*entities.Transaction) *fakeTransactionRepository {
	repo := &fakeTransactionRepository{transactions: make(map[uuid.UUID]*entities.Transaction)}
	for _, tx := range txs {
		copied := *tx
		repo.transactions[tx.ID] = &copied
	}
	return repo
}

func (r *fakeTransactionRepository) Create(_ context.Context, tx *entities.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *tx
	r.transactions[tx.ID] = &copied
	return nil
}

func (r *fakeTransactionRepository) GetByID(_ context.Context, id uuid.UUID) (*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	copied := *tx
	return &copied, nil
}

func (r *fakeTransactionRepository) GetByExternalID(_ context.Context, externalID string) (*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.ExternalTransactionID == externalID {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeTransactionRepository) ListPendingByCurrencies(_ context.Context, currencies []string) ([]*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		allowed[c] = true
	}
	var pending []*entities.Transaction
	for _, tx := range r.transactions {
		if tx.Status == entities.TransactionStatusPending && allowed[tx.Currency] {
			copied := *tx
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *fakeTransactionRepository) TransitionFromPending(_ context.Context, id uuid.UUID, newStatus entities.TransactionStatus, completedAt time.Time, update *repositories.TerminalUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	tx, ok := r.transactions[id]
	if !ok || tx.Status != entities.TransactionStatusPending {
		return false, nil
	}
	tx.Status = newStatus
	tx.CompletedAt = &completedAt
	if update != nil {
		if update.TxHash != nil {
			tx.TxHash = update.TxHash
		}
		if update.Amount != nil {
			tx.Amount = *update.Amount
		}
	}
	r.transitions++
	return true, nil
}

func (r *fakeTransactionRepository) Update(_ context.Context, tx *entities.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *tx
	r.transactions[tx.ID] = &copied
	return nil
}

func (r *fakeTransactionRepository) stored(id uuid.UUID) *entities.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactions[id]
}

func newPendingTransaction(externalID string) *entities.Transaction {
	return &entities.Transaction{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		ExternalTransactionID: externalID,
		Status:                entities.TransactionStatusPending,
		Currency:              "USDC",
		Amount:                decimal.NewFromInt(100),
		CreatedAt:             time.Now().UTC().Add(-time.Minute),
	}
}

func newTestService(repo *fakeTransactionRepository) *Service {
	return NewService(repo, nil, zap.NewNop())
}

// fakeReplayStore backs replay protection with an in-memory SetNX/Del
type fakeReplayStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{keys: make(map[string]bool)}
}

func (s *fakeReplayStore) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	s.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (s *fakeReplayStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if s.keys[key] {
			delete(s.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func newTestServiceWithReplay(repo *fakeTransactionRepository) *Service {
	replay := security.NewWebhookReplayProtection(newFakeReplayStore(), security.DefaultWebhookReplayConfig(), zap.NewNop())
	return NewService(repo, replay, zap.NewNop())
}

func TestApplyProcessorStateCompletesPending(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	now := time.Now().UTC()
	applied, err := svc.ApplyProcessorState(context.Background(), tx, "CONFIRMED", now, metrics.PathPoll, nil)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, entities.TransactionStatusCompleted, tx.Status)
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, now, *tx.CompletedAt)
	assert.Equal(t, entities.TransactionStatusCompleted, repo.stored(tx.ID).Status)
}

func TestApplyProcessorStateRecordsTerminalFields(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	hash := "0xabc"
	amount := decimal.RequireFromString("12.5")
	update := &repositories.TerminalUpdate{TxHash: &hash, Amount: &amount}
	applied, err := svc.ApplyProcessorState(context.Background(), tx, "COMPLETE", time.Now().UTC(), metrics.PathWebhook, update)

	require.NoError(t, err)
	assert.True(t, applied)
	stored := repo.stored(tx.ID)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, "0xabc", *stored.TxHash)
	assert.True(t, stored.Amount.Equal(amount))
}

func TestApplyProcessorStatePendingStateIsNoop(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	for _, state := range []string{"QUEUED", "SENT", "DENIED", ""} {
		applied, err := svc.ApplyProcessorState(context.Background(), tx, state, time.Now().UTC(), metrics.PathPoll, nil)
		require.NoError(t, err)
		assert.False(t, applied, "state %q must not transition", state)
	}
	assert.Equal(t, entities.TransactionStatusPending, repo.stored(tx.ID).Status)
	assert.Equal(t, 0, repo.transitions)
}

func TestApplyProcessorStateNeverOverwritesTerminal(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	tx.Status = entities.TransactionStatusCompleted
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	applied, err := svc.ApplyProcessorState(context.Background(), tx, "FAILED", time.Now().UTC(), metrics.PathWebhook, nil)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, entities.TransactionStatusCompleted, repo.stored(tx.ID).Status)
}

func TestApplyProcessorStateConcurrentPathsExactlyOneWins(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	type attempt struct {
		applied bool
		err     error
	}

	var wg sync.WaitGroup
	results := make(chan attempt, 2)
	for _, path := range []string{metrics.PathPoll, metrics.PathWebhook} {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			local := *tx
			applied, err := svc.ApplyProcessorState(context.Background(), &local, "CONFIRMED", time.Now().UTC(), path, nil)
			results <- attempt{applied: applied, err: err}
		}(path)
	}
	wg.Wait()
	close(results)

	wins := 0
	for res := range results {
		require.NoError(t, res.err)
		if res.applied {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, repo.transitions)
	assert.Equal(t, entities.TransactionStatusCompleted, repo.stored(tx.ID).Status)
}

func TestFailPending(t *testing.T) {
	tx := newPendingTransaction("")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	applied, err := svc.FailPending(context.Background(), tx, time.Now().UTC(), metrics.PathPoll)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, entities.TransactionStatusFailed, repo.stored(tx.ID).Status)

	applied, err = svc.FailPending(context.Background(), tx, time.Now().UTC(), metrics.PathPoll)
	require.NoError(t, err)
	assert.False(t, applied)
}

func notification(externalID, state string) *WebhookNotification {
	return &WebhookNotification{
		NotificationID:   uuid.NewString(),
		NotificationType: NotificationTypeTransactionsUpdated,
		Notification: &WebhookTransactionData{
			ID:    externalID,
			State: state,
		},
	}
}

func TestProcessNotificationApplies(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	outcome, err := svc.ProcessNotification(context.Background(), notification("ext-1", "CONFIRMED"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, entities.TransactionStatusCompleted, repo.stored(tx.ID).Status)
}

func TestProcessNotificationRedeliveryIsNoop(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	outcome, err := svc.ProcessNotification(context.Background(), notification("ext-1", "CONFIRMED"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = svc.ProcessNotification(context.Background(), notification("ext-1", "CONFIRMED"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 1, repo.transitions)
}

func TestProcessNotificationDuplicateDeliveryDeduplicated(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestServiceWithReplay(repo)

	n := notification("ext-1", "CONFIRMED")
	outcome, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// Same notification id delivered again
	outcome, err = svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, repo.transitions)
}

func TestProcessNotificationFailureReleasesNotificationID(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestServiceWithReplay(repo)

	// First delivery claims the notification id, then storage fails. The
	// boundary answers 500 and Circle redelivers with the same id.
	repo.err = errors.New("database unavailable")
	n := notification("ext-1", "CONFIRMED")
	_, err := svc.ProcessNotification(context.Background(), n)
	require.Error(t, err)
	assert.Equal(t, entities.TransactionStatusPending, repo.stored(tx.ID).Status)

	// The redelivery must be processed, not dismissed as a replay
	repo.err = nil
	outcome, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, entities.TransactionStatusCompleted, repo.stored(tx.ID).Status)
}

func TestProcessNotificationUnknownTypeIgnored(t *testing.T) {
	repo := newFakeTransactionRepository()
	svc := newTestService(repo)

	n := notification("ext-1", "CONFIRMED")
	n.NotificationType = "wallets.updated"
	outcome, err := svc.ProcessNotification(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestProcessNotificationUnknownTransaction(t *testing.T) {
	repo := newFakeTransactionRepository()
	svc := newTestService(repo)

	outcome, err := svc.ProcessNotification(context.Background(), notification("ext-missing", "CONFIRMED"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownTransaction, outcome)
}

func TestProcessNotificationMissingFields(t *testing.T) {
	repo := newFakeTransactionRepository()
	svc := newTestService(repo)

	n := notification("", "CONFIRMED")
	_, err := svc.ProcessNotification(context.Background(), n)
	assert.ErrorIs(t, err, ErrInvalidNotification)

	n = notification("ext-1", "")
	_, err = svc.ProcessNotification(context.Background(), n)
	assert.ErrorIs(t, err, ErrInvalidNotification)

	n = notification("ext-1", "CONFIRMED")
	n.Notification = nil
	_, err = svc.ProcessNotification(context.Background(), n)
	assert.ErrorIs(t, err, ErrInvalidNotification)
}

func TestProcessNotificationRecordsAmountFromPayload(t *testing.T) {
	tx := newPendingTransaction("ext-1")
	repo := newFakeTransactionRepository(tx)
	svc := newTestService(repo)

	hash := "0xfee"
	n := notification("ext-1", "CONFIRMED")
	n.Notification.TxHash = &hash
	n.Notification.Amounts = []string{"42.75", "0.1"}

	outcome, err := svc.ProcessNotification(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	stored := repo.stored(tx.ID)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, "0xfee", *stored.TxHash)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("42.75")))
}
