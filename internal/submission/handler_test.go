package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/akylbek/intl-payments/internal/apperrors"
	"github.com/akylbek/intl-payments/internal/confirmation"
	"github.com/akylbek/intl-payments/internal/interfaces"
	"github.com/akylbek/intl-payments/internal/models"
	"github.com/akylbek/intl-payments/internal/repository"
	"github.com/akylbek/intl-payments/internal/validation"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// flakyRepository wraps the in-memory store and can fail or collide on demand.
type flakyRepository struct {
	*repository.MemoryRepository
	CreateFunc func(ctx context.Context, tx *models.Transaction, handoff models.OutboxMessage) error
	LookupErr  error
}

func (r *flakyRepository) Create(ctx context.Context, tx *models.Transaction, handoff models.OutboxMessage) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, handoff)
	}
	return r.MemoryRepository.Create(ctx, tx, handoff)
}

func (r *flakyRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	if r.LookupErr != nil {
		return nil, r.LookupErr
	}
	return r.MemoryRepository.GetByIdempotencyKey(ctx, userID, key)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedReceipt
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*models.CachedReceipt)}
}

func (c *mapCache) Get(ctx context.Context, userID, key string) (*models.CachedReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[userID+"/"+key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	out := *e
	return &out, nil
}

func (c *mapCache) Set(ctx context.Context, userID, key string, receipt *models.CachedReceipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID+"/"+key] = receipt
	return nil
}

type countingVelocity struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (v *countingVelocity) Increment(ctx context.Context, userID string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return 0, v.err
	}
	if v.counts == nil {
		v.counts = make(map[string]int64)
	}
	v.counts[userID]++
	return v.counts[userID], nil
}

type fixture struct {
	validator *validation.Validator
	gate      *confirmation.Gate
	repo      *flakyRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := validation.NewValidator(validation.DefaultRules())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	g, err := confirmation.NewGate(confirmation.DefaultFeeBasisPoints)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return &fixture{
		validator: v,
		gate:      g,
		repo:      &flakyRepository{MemoryRepository: repository.NewMemoryRepository()},
	}
}

func (f *fixture) handler(opts ...Option) *Handler {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewHandler(f.repo, f.gate, opts...)
}

// confirm runs input through validation and the gate with an explicit yes.
func (f *fixture) confirm(t *testing.T, in models.PaymentInput) confirmation.Confirmed {
	t.Helper()
	req, err := f.validator.Validate(in)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	summary, err := f.gate.Summarize(req, language.AmericanEnglish)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	c, err := f.gate.Confirm(req, summary, confirmation.Decision{Confirmed: true})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return c
}

func paymentInput() models.PaymentInput {
	return models.PaymentInput{
		Amount:           "1000.00",
		Currency:         "USD",
		RecipientAccount: "12345678",
		SwiftCode:        "ABCDUS33",
	}
}

func TestSubmit_EndToEnd(t *testing.T) {
	f := newFixture(t)
	h := f.handler()

	receipt, err := h.Submit(context.Background(), "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if receipt.TransactionID == "" {
		t.Fatal("expected a transaction id")
	}
	if receipt.Status != models.StatusPending {
		t.Errorf("expected PENDING, got %s", receipt.Status)
	}
	if receipt.Replayed {
		t.Error("first submission must not be a replay")
	}
	if receipt.Summary.Fee.Value != "20.00" || receipt.Summary.Total.Value != "1020.00" {
		t.Errorf("expected fee 20.00 and total 1020.00, got %s and %s", receipt.Summary.Fee.Value, receipt.Summary.Total.Value)
	}

	stored, err := f.repo.GetByID(context.Background(), receipt.TransactionID)
	if err != nil {
		t.Fatalf("expected stored transaction, got %v", err)
	}
	if stored.Status != models.StatusPending || stored.UserID != "user-1" {
		t.Errorf("unexpected stored transaction: %+v", stored)
	}
	if stored.FeeMinor != 2000 || stored.TotalMinor != 102000 {
		t.Errorf("expected fee 2000 total 102000, got %d %d", stored.FeeMinor, stored.TotalMinor)
	}
	if !stored.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, stored.CreatedAt)
	}

	outbox := f.repo.Outbox()
	if len(outbox) != 1 || outbox[0].TransactionID != receipt.TransactionID || outbox[0].Topic != DefaultSettlementTopic {
		t.Errorf("expected one settlement handoff for the transaction, got %+v", outbox)
	}
}

func TestSubmit_SameKeySamePayloadIsReplayed(t *testing.T) {
	f := newFixture(t)
	h := f.handler()
	ctx := context.Background()

	first, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Errorf("expected same transaction id, got %s and %s", first.TransactionID, second.TransactionID)
	}
	if !second.Replayed {
		t.Error("expected second response to be flagged as replay")
	}
	if f.repo.Count() != 1 {
		t.Errorf("expected exactly one transaction, got %d", f.repo.Count())
	}
	if len(f.repo.Outbox()) != 1 {
		t.Errorf("expected exactly one settlement handoff, got %d", len(f.repo.Outbox()))
	}
}

func TestSubmit_SameKeyDifferentAmountConflicts(t *testing.T) {
	f := newFixture(t)
	h := f.handler()
	ctx := context.Background()

	first, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	changed := paymentInput()
	changed.Amount = "999.00"
	_, err = h.Submit(ctx, "user-1", "key-1", f.confirm(t, changed))

	var conflict *apperrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.TransactionID != first.TransactionID {
		t.Errorf("expected conflict to reference %s, got %s", first.TransactionID, conflict.TransactionID)
	}
	if f.repo.Count() != 1 {
		t.Errorf("expected no new transaction, got %d", f.repo.Count())
	}
}

func TestSubmit_KeysAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	h := f.handler()
	ctx := context.Background()

	a, err := h.Submit(ctx, "user-1", "shared", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("user-1: %v", err)
	}
	b, err := h.Submit(ctx, "user-2", "shared", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("user-2: %v", err)
	}
	if a.TransactionID == b.TransactionID || b.Replayed {
		t.Error("expected independent transactions for different users")
	}
}

func TestSubmit_ConcurrentDuplicatesCreateOneTransaction(t *testing.T) {
	f := newFixture(t)
	h := f.handler()
	payment := f.confirm(t, paymentInput())

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.Submit(context.Background(), "user-1", "race", payment)
			errs[i] = err
			if r != nil {
				ids[i] = r.TransactionID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d: expected %s, got %s", i, ids[0], ids[i])
		}
	}
	if f.repo.Count() != 1 {
		t.Errorf("expected one transaction, got %d", f.repo.Count())
	}
}

func TestSubmit_LostInsertRaceResolvesToReplay(t *testing.T) {
	f := newFixture(t)
	payment := f.confirm(t, paymentInput())

	// Simulate a twin that committed between our lookup and our insert.
	f.repo.CreateFunc = func(ctx context.Context, tx *models.Transaction, handoff models.OutboxMessage) error {
		twin := *tx
		twin.ID = "twin-id"
		f.repo.CreateFunc = nil
		if err := f.repo.MemoryRepository.Create(ctx, &twin, handoff); err != nil {
			return err
		}
		return interfaces.ErrDuplicateIdempotencyKey
	}

	receipt, err := f.handler().Submit(context.Background(), "user-1", "key-1", payment)
	if err != nil {
		t.Fatalf("expected replay, got %v", err)
	}
	if receipt.TransactionID != "twin-id" || !receipt.Replayed {
		t.Errorf("expected replay of twin-id, got %+v", receipt)
	}
}

func TestSubmit_RegeneratesCollidingID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := []string{"taken", "taken", "fresh"}
	gen := func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	h := f.handler(WithIDGenerator(gen))

	other := f.confirm(t, paymentInput())
	if _, err := h.Submit(ctx, "user-0", "seed", other); err != nil {
		t.Fatalf("seed: %v", err)
	}

	receipt, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("expected success after regeneration, got %v", err)
	}
	if receipt.TransactionID != "fresh" {
		t.Errorf("expected fresh id, got %s", receipt.TransactionID)
	}
}

func TestSubmit_PersistenceFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.repo.CreateFunc = func(ctx context.Context, tx *models.Transaction, handoff models.OutboxMessage) error {
		return errors.New("connection reset by peer")
	}

	receipt, err := f.handler().Submit(context.Background(), "user-1", "key-1", f.confirm(t, paymentInput()))

	var retryable *apperrors.RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if retryable.RetryAfter <= 0 {
		t.Error("expected a retry hint")
	}
	if receipt != nil {
		t.Error("expected no receipt on failure")
	}
	if f.repo.Count() != 0 {
		t.Errorf("expected nothing persisted, got %d", f.repo.Count())
	}
}

func TestSubmit_LookupFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.repo.LookupErr = errors.New("timeout")

	_, err := f.handler().Submit(context.Background(), "user-1", "key-1", f.confirm(t, paymentInput()))
	var retryable *apperrors.RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
}

func TestSubmit_RequiresConfirmationUserAndKey(t *testing.T) {
	f := newFixture(t)
	h := f.handler()
	ctx := context.Background()

	_, err := h.Submit(ctx, "user-1", "key-1", confirmation.Confirmed{})
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) || !verr.Has("confirmed", apperrors.CodeConfirmationRequired) {
		t.Errorf("expected confirmation_required, got %v", err)
	}

	_, err = h.Submit(ctx, "", "key-1", f.confirm(t, paymentInput()))
	var aerr *apperrors.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Errorf("expected AuthorizationError, got %v", err)
	}

	_, err = h.Submit(ctx, "user-1", "", f.confirm(t, paymentInput()))
	if !errors.As(err, &verr) || !verr.Has("Idempotency-Key", apperrors.CodeRequired) {
		t.Errorf("expected missing key error, got %v", err)
	}

	if f.repo.Count() != 0 {
		t.Errorf("expected nothing persisted, got %d", f.repo.Count())
	}
}

func TestSubmit_CacheFastPath(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	h := f.handler(WithCache(cache))
	ctx := context.Background()

	first, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := cache.Get(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("expected receipt cached, got %v", err)
	}

	// The store is unreachable but the cache still answers the replay.
	f.repo.LookupErr = errors.New("db down")
	second, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("expected cached replay, got %v", err)
	}
	if second.TransactionID != first.TransactionID || !second.Replayed {
		t.Errorf("expected cached replay of %s, got %+v", first.TransactionID, second)
	}

	changed := paymentInput()
	changed.SwiftCode = "DEUTDEFF"
	_, err = h.Submit(ctx, "user-1", "key-1", f.confirm(t, changed))
	var conflict *apperrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected ConflictError from cache, got %v", err)
	}
}

func TestSubmit_CachedReplayReportsCurrentStatus(t *testing.T) {
	f := newFixture(t)
	h := f.handler(WithCache(newMapCache()))
	ctx := context.Background()

	first, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.repo.UpdateStatus(ctx, first.TransactionID, models.StatusVerified); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	second, err := h.Submit(ctx, "user-1", "key-1", f.confirm(t, paymentInput()))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.Status != models.StatusVerified {
		t.Errorf("expected %s, got %s", models.StatusVerified, second.Status)
	}
}

func TestSubmit_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	cache.getErr = errors.New("redis: connection refused")
	h := f.handler(WithCache(cache))

	if _, err := h.Submit(context.Background(), "user-1", "key-1", f.confirm(t, paymentInput())); err != nil {
		t.Fatalf("expected store path to succeed, got %v", err)
	}
	if f.repo.Count() != 1 {
		t.Errorf("expected one transaction, got %d", f.repo.Count())
	}
}

func TestSubmit_VelocityLimit(t *testing.T) {
	f := newFixture(t)
	counter := &countingVelocity{}
	h := f.handler(WithVelocityLimit(counter, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.Submit(ctx, "user-1", fmt.Sprintf("k%d", i), f.confirm(t, paymentInput())); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	// Replays are not new submissions and do not count.
	if _, err := h.Submit(ctx, "user-1", "k0", f.confirm(t, paymentInput())); err != nil {
		t.Fatalf("replay: %v", err)
	}

	_, err := h.Submit(ctx, "user-1", "k2", f.confirm(t, paymentInput()))
	var aerr *apperrors.AuthorizationError
	if !errors.As(err, &aerr) || !aerr.Forbidden {
		t.Fatalf("expected forbidden AuthorizationError, got %v", err)
	}
	if f.repo.Count() != 2 {
		t.Errorf("expected 2 transactions, got %d", f.repo.Count())
	}

	counter.err = errors.New("redis down")
	_, err = h.Submit(ctx, "user-2", "k0", f.confirm(t, paymentInput()))
	var retryable *apperrors.RetryableError
	if !errors.As(err, &retryable) {
		t.Errorf("expected RetryableError when velocity is unknown, got %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("user-1", "nonce-abc")
	b := DeriveKey("user-1", "nonce-abc")
	c := DeriveKey("user-2", "nonce-abc")

	if a == "" || a != b {
		t.Errorf("expected deterministic non-empty key, got %q and %q", a, b)
	}
	if a == c {
		t.Error("expected different users to derive different keys")
	}
	if DeriveKey("user-1", "  ") != "" {
		t.Error("expected empty key for blank nonce")
	}
}

func TestFingerprint(t *testing.T) {
	req := models.PaymentRequest{AmountMinor: 100000, Currency: "USD", RecipientAccount: "12345678", SwiftCode: "ABCDUS33"}
	same := req
	other := req
	other.Reference = "rent"

	if Fingerprint(req) != Fingerprint(same) {
		t.Error("expected equal payloads to share a fingerprint")
	}
	if Fingerprint(req) == Fingerprint(other) {
		t.Error("expected different payloads to differ")
	}
}

func TestNewTransactionID_IsUniqueAndOrdered(t *testing.T) {
	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < 1000; i++ {
		id, err := NewTransactionID()
		if err != nil {
			t.Fatalf("NewTransactionID: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		if len(id) != 36 {
			t.Errorf("expected canonical UUID, got %s", id)
		}
		if id[14] != '7' {
			t.Errorf("expected version 7 UUID, got %s", id)
		}
		if prev != "" && id < prev {
			t.Errorf("expected time-ordered ids, %s came after %s", id, prev)
		}
		prev = id
	}
}
