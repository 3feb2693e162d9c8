package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/internal/settlement"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/sumup"
)

func TestCheckoutPollJob_feedsProcessorStatusThroughSettlement(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	sumupID := "chk_live_42"
	record := models.Checkout{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		SumUpCheckoutID: &sumupID,
		Status:          enums.CheckoutStatusPending,
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{record})
	helper.job.now = func() time.Time { return now }
	helper.processor.checkouts[sumupID] = &sumup.Checkout{
		ID:            sumupID,
		Status:        "PAID",
		TransactionID: "txn_77",
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.settlement.events) != 1 {
		t.Fatalf("expected 1 settlement event, got %d", len(helper.settlement.events))
	}
	event := helper.settlement.events[0]
	if event.CheckoutID != record.ID {
		t.Fatalf("unexpected checkout id: %s", event.CheckoutID)
	}
	if event.Status != "PAID" || event.TransactionID != "txn_77" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if helper.tokens.platformCalls != 0 {
		t.Fatal("direct checkout should not use the platform token")
	}
	if helper.tokens.freshCalls != 1 {
		t.Fatalf("expected 1 artist token lookup, got %d", helper.tokens.freshCalls)
	}
}

func TestCheckoutPollJob_usesPlatformTokenForPlatformCollected(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	sumupID := "chk_live_43"
	record := models.Checkout{
		ID:                uuid.New(),
		OrderID:           uuid.New(),
		SumUpCheckoutID:   &sumupID,
		PlatformCollected: true,
		Status:            enums.CheckoutStatusPending,
		CreatedAt:         now.Add(-10 * time.Minute),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{record})
	helper.job.now = func() time.Time { return now }
	helper.processor.checkouts[sumupID] = &sumup.Checkout{ID: sumupID, Status: "FAILED"}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if helper.tokens.platformCalls != 1 {
		t.Fatalf("expected platform token, got %d calls", helper.tokens.platformCalls)
	}
	if helper.tokens.freshCalls != 0 {
		t.Fatal("platform-collected checkout should not touch artist tokens")
	}
	if len(helper.settlement.events) != 1 || helper.settlement.events[0].Status != "FAILED" {
		t.Fatalf("unexpected events: %+v", helper.settlement.events)
	}
}

func TestCheckoutPollJob_expiresPastPollWindowWithoutProcessorCall(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	sumupID := "chk_live_44"
	record := models.Checkout{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		SumUpCheckoutID: &sumupID,
		Status:          enums.CheckoutStatusPending,
		CreatedAt:       now.Add(-25 * time.Hour),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{record})
	helper.job.now = func() time.Time { return now }

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if helper.processor.calls != 0 {
		t.Fatal("expired checkout should not be fetched from the processor")
	}
	if len(helper.settlement.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(helper.settlement.events))
	}
	event := helper.settlement.events[0]
	if event.Status != "EXPIRED" || event.CheckoutID != record.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCheckoutPollJob_expiresOrphanedCreatedCheckout(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	// crashed between the persist tx and the outcome tx: no processor id
	orphan := models.Checkout{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Status:    enums.CheckoutStatusCreated,
		CreatedAt: now.Add(-25 * time.Hour),
	}
	young := models.Checkout{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Status:    enums.CheckoutStatusCreated,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{orphan, young})
	helper.job.now = func() time.Time { return now }

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if helper.processor.calls != 0 {
		t.Fatal("created checkouts have no processor id to fetch")
	}
	if len(helper.settlement.events) != 1 {
		t.Fatalf("expected only the orphan to expire, got %d events", len(helper.settlement.events))
	}
	event := helper.settlement.events[0]
	if event.Status != "EXPIRED" || event.CheckoutID != orphan.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCheckoutPollJob_skipsStillPendingRemoteStatus(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	sumupID := "chk_live_45"
	record := models.Checkout{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		SumUpCheckoutID: &sumupID,
		Status:          enums.CheckoutStatusPending,
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{record})
	helper.job.now = func() time.Time { return now }
	helper.processor.checkouts[sumupID] = &sumup.Checkout{ID: sumupID, Status: "PENDING"}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.settlement.events) != 0 {
		t.Fatalf("pending remote status should not settle, got %+v", helper.settlement.events)
	}
}

func TestCheckoutPollJob_oneFailureDoesNotStopTheBatch(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	brokenID := "chk_broken"
	okID := "chk_ok"
	broken := models.Checkout{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		SumUpCheckoutID: &brokenID,
		Status:          enums.CheckoutStatusPending,
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	healthy := models.Checkout{
		ID:              uuid.New(),
		OrderID:         uuid.New(),
		SumUpCheckoutID: &okID,
		Status:          enums.CheckoutStatusPending,
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	helper := newCheckoutPollJobTest(t, []models.Checkout{broken, healthy})
	helper.job.now = func() time.Time { return now }
	helper.processor.checkouts[okID] = &sumup.Checkout{ID: okID, Status: "PAID", TransactionID: "txn_88"}

	err := helper.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected an aggregate error for the broken checkout")
	}
	if len(helper.settlement.events) != 1 {
		t.Fatalf("healthy checkout should still settle, got %d events", len(helper.settlement.events))
	}
	if helper.settlement.events[0].CheckoutID != healthy.ID {
		t.Fatalf("unexpected settled checkout: %s", helper.settlement.events[0].CheckoutID)
	}
}

type checkoutPollJobTestHelper struct {
	job        *CheckoutPollJob
	settlement *fakeSettler
	processor  *fakeStatusFetcher
	tokens     *fakeTokenSource
}

func newCheckoutPollJobTest(t *testing.T, pending []models.Checkout) *checkoutPollJobTestHelper {
	t.Helper()
	settler := &fakeSettler{}
	processor := &fakeStatusFetcher{checkouts: map[string]*sumup.Checkout{}}
	tokens := &fakeTokenSource{}
	job, err := NewCheckoutPollJob(CheckoutPollJobParams{
		Checkouts:  &fakePollCheckoutRepo{pending: pending},
		Orders:     &fakePollOrderRepo{},
		Settlement: settler,
		Processor:  processor,
		Tokens:     tokens,
		Payments:   config.PaymentsConfig{PollGrace: 2 * time.Minute, MaxPollDuration: 24 * time.Hour},
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewCheckoutPollJob: %v", err)
	}
	return &checkoutPollJobTestHelper{job: job, settlement: settler, processor: processor, tokens: tokens}
}

type fakeSettler struct {
	events []settlement.Event
}

func (f *fakeSettler) Apply(ctx context.Context, event settlement.Event) (settlement.Outcome, error) {
	f.events = append(f.events, event)
	return settlement.OutcomeApplied, nil
}

type fakeStatusFetcher struct {
	checkouts map[string]*sumup.Checkout
	calls     int
}

func (f *fakeStatusFetcher) GetCheckout(ctx context.Context, accessToken, checkoutID string) (*sumup.Checkout, error) {
	f.calls++
	remote, ok := f.checkouts[checkoutID]
	if !ok {
		return nil, errors.New("processor unavailable")
	}
	return remote, nil
}

type fakeTokenSource struct {
	freshCalls    int
	platformCalls int
}

func (f *fakeTokenSource) EnsureFresh(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	f.freshCalls++
	return &models.ArtistConnection{ArtistID: artistID, AccessToken: "artist-token"}, nil
}

func (f *fakeTokenSource) PlatformToken(ctx context.Context) (string, error) {
	f.platformCalls++
	return "platform-token", nil
}

type fakePollCheckoutRepo struct {
	pending []models.Checkout
}

func (f *fakePollCheckoutRepo) WithTx(tx *gorm.DB) checkout.Repository { return f }

func (f *fakePollCheckoutRepo) Create(ctx context.Context, record *models.Checkout) error {
	return nil
}

func (f *fakePollCheckoutRepo) Update(ctx context.Context, record *models.Checkout) error {
	return nil
}

func (f *fakePollCheckoutRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	return nil, nil
}

func (f *fakePollCheckoutRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	return nil, nil
}

func (f *fakePollCheckoutRepo) FindBySumUpCheckoutID(ctx context.Context, sumupCheckoutID string) (*models.Checkout, error) {
	return nil, nil
}

func (f *fakePollCheckoutRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Checkout, error) {
	var out []models.Checkout
	for _, record := range f.pending {
		if record.CreatedAt.Before(cutoff) {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakePollOrderRepo struct{}

func (f *fakePollOrderRepo) WithTx(tx *gorm.DB) orders.Repository { return f }

func (f *fakePollOrderRepo) Create(ctx context.Context, order *models.Order) error { return nil }

func (f *fakePollOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: id, ArtistID: uuid.New(), Status: enums.OrderStatusPending}, nil
}

func (f *fakePollOrderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return f.FindByID(ctx, id)
}

func (f *fakePollOrderRepo) Update(ctx context.Context, order *models.Order) error { return nil }
