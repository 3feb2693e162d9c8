package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/internal/checkout"
	"github.com/rafaelolivas/showbill-backend/internal/orders"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubCheckoutRepo struct {
	row *models.Checkout
}

func (s *stubCheckoutRepo) WithTx(tx *gorm.DB) checkout.Repository { return s }

func (s *stubCheckoutRepo) Create(ctx context.Context, record *models.Checkout) error {
	s.row = record
	return nil
}

func (s *stubCheckoutRepo) Update(ctx context.Context, record *models.Checkout) error {
	s.row = record
	return nil
}

func (s *stubCheckoutRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	if s.row == nil || s.row.ID != id {
		return nil, nil
	}
	return s.row, nil
}

func (s *stubCheckoutRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	return s.FindByID(ctx, id)
}

func (s *stubCheckoutRepo) FindBySumUpCheckoutID(ctx context.Context, sumupCheckoutID string) (*models.Checkout, error) {
	if s.row == nil || s.row.SumUpCheckoutID == nil || *s.row.SumUpCheckoutID != sumupCheckoutID {
		return nil, nil
	}
	return s.row, nil
}

func (s *stubCheckoutRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Checkout, error) {
	return nil, nil
}

type stubOrdersRepo struct {
	order *models.Order
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) error {
	s.order = order
	return nil
}

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, nil
	}
	return s.order, nil
}

func (s *stubOrdersRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *stubOrdersRepo) Update(ctx context.Context, order *models.Order) error {
	s.order = order
	return nil
}

type stubTransactionRepo struct {
	rows      map[string]*models.Transaction
	createErr error
}

func newStubTransactionRepo() *stubTransactionRepo {
	return &stubTransactionRepo{rows: map[string]*models.Transaction{}}
}

func (s *stubTransactionRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubTransactionRepo) Create(ctx context.Context, transaction *models.Transaction) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.rows[transaction.SumUpTransactionID] = transaction
	return nil
}

func (s *stubTransactionRepo) FindBySumUpTransactionID(ctx context.Context, sumupTransactionID string) (*models.Transaction, error) {
	return s.rows[sumupTransactionID], nil
}

type stubIssuer struct {
	calls int
}

func (s *stubIssuer) Issue(ctx context.Context, tx *gorm.DB, order *models.Order, transaction *models.Transaction) ([]models.Ticket, error) {
	s.calls++
	return []models.Ticket{{ID: uuid.New()}}, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type settlementFixture struct {
	svc          *Service
	checkouts    *stubCheckoutRepo
	orders       *stubOrdersRepo
	transactions *stubTransactionRepo
	issuer       *stubIssuer
	emitter      *stubEmitter
	checkout     *models.Checkout
	order        *models.Order
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	orderID := uuid.New()
	sumupID := "chk_live_1"
	record := &models.Checkout{
		ID:                uuid.New(),
		OrderID:           orderID,
		Reference:         "order-abc-ref",
		SumUpCheckoutID:   &sumupID,
		AmountPence:       5000,
		Currency:          enums.CurrencyGBP,
		MerchantCode:      "MARTIST",
		PlatformFeePence:  250,
		ArtistAmountPence: 4750,
		Status:            enums.CheckoutStatusPending,
	}
	order := &models.Order{
		ID:         orderID,
		ArtistID:   uuid.New(),
		TotalPence: 5000,
		Status:     enums.OrderStatusPending,
		Items: []models.OrderLineItem{
			{ID: uuid.New(), ProductName: "Standing", Quantity: 2, UnitPricePence: 2500},
		},
	}

	f := &settlementFixture{
		checkouts:    &stubCheckoutRepo{row: record},
		orders:       &stubOrdersRepo{order: order},
		transactions: newStubTransactionRepo(),
		issuer:       &stubIssuer{},
		emitter:      &stubEmitter{},
		checkout:     record,
		order:        order,
	}

	svc, err := NewService(ServiceParams{
		DB:           stubTxRunner{},
		Checkouts:    f.checkouts,
		Orders:       f.orders,
		Transactions: f.transactions,
		Fulfillment:  f.issuer,
		Outbox:       f.emitter,
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func paidEvent(f *settlementFixture) Event {
	return Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "PAID",
		TransactionID:   "txn_1",
	}
}

func TestApplyPaidConfirmsOrderAndIssuesTickets(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	outcome, err := f.svc.Apply(context.Background(), paidEvent(f))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	if f.order.Status != enums.OrderStatusConfirmed || f.order.ConfirmedAt == nil {
		t.Fatalf("order not confirmed: %+v", f.order)
	}
	if f.checkout.Status != enums.CheckoutStatusPaid {
		t.Fatalf("checkout not paid: %s", f.checkout.Status)
	}

	transaction := f.transactions.rows["txn_1"]
	if transaction == nil {
		t.Fatal("transaction not created")
	}
	// split copied from the checkout row, never recomputed
	if transaction.AmountPence != 5000 || transaction.PlatformFeePence != 250 || transaction.ArtistEarningsPence != 4750 {
		t.Fatalf("unexpected split: %+v", transaction)
	}
	if transaction.PlatformFeePence+transaction.ArtistEarningsPence != transaction.AmountPence {
		t.Fatalf("split does not sum: %+v", transaction)
	}

	if f.issuer.calls != 1 {
		t.Fatalf("expected 1 fulfillment call, got %d", f.issuer.calls)
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.EventOrderConfirmed {
		t.Fatalf("expected order_confirmed event, got %+v", f.emitter.events)
	}
}

func TestApplyPaidReplayIsNoop(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)
	event := paidEvent(f)

	if _, err := f.svc.Apply(context.Background(), event); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	for i := 0; i < 3; i++ {
		outcome, err := f.svc.Apply(context.Background(), event)
		if err != nil {
			t.Fatalf("replay Apply: %v", err)
		}
		if outcome != OutcomeDuplicate {
			t.Fatalf("expected duplicate, got %s", outcome)
		}
	}

	if len(f.transactions.rows) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(f.transactions.rows))
	}
	if f.issuer.calls != 1 {
		t.Fatalf("tickets must be issued once, got %d calls", f.issuer.calls)
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.emitter.events))
	}
}

func TestApplyPaidForCancelledOrderIsRejected(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)
	f.order.Status = enums.OrderStatusCancelled

	outcome, err := f.svc.Apply(context.Background(), paidEvent(f))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", outcome)
	}
	if f.order.Status != enums.OrderStatusCancelled {
		t.Fatalf("order mutated: %s", f.order.Status)
	}
	if len(f.transactions.rows) != 0 || f.issuer.calls != 0 {
		t.Fatal("rejected transition must not create transactions or tickets")
	}
}

func TestApplyPaidConcurrentInsertLoses(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)
	f.transactions.createErr = errors.New(`duplicate key value violates unique constraint "uq_transactions_sumup_transaction_id"`)

	outcome, err := f.svc.Apply(context.Background(), paidEvent(f))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if f.issuer.calls != 0 {
		t.Fatal("losing writer must not issue tickets")
	}
}

func TestApplyFailureStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status       string
		wantOrder    enums.OrderStatus
		wantCheckout enums.CheckoutStatus
		wantEvent    enums.OutboxEventType
	}{
		{status: "FAILED", wantOrder: enums.OrderStatusFailed, wantCheckout: enums.CheckoutStatusFailed, wantEvent: enums.EventOrderFailed},
		{status: "CANCELLED", wantOrder: enums.OrderStatusCancelled, wantCheckout: enums.CheckoutStatusFailed, wantEvent: enums.EventOrderCancelled},
		{status: "EXPIRED", wantOrder: enums.OrderStatusExpired, wantCheckout: enums.CheckoutStatusExpired, wantEvent: enums.EventOrderExpired},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.status, func(t *testing.T) {
			t.Parallel()

			f := newSettlementFixture(t)
			outcome, err := f.svc.Apply(context.Background(), Event{
				SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
				Status:          tc.status,
			})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if outcome != OutcomeApplied {
				t.Fatalf("expected applied, got %s", outcome)
			}
			if f.order.Status != tc.wantOrder {
				t.Fatalf("order = %s, want %s", f.order.Status, tc.wantOrder)
			}
			if f.checkout.Status != tc.wantCheckout {
				t.Fatalf("checkout = %s, want %s", f.checkout.Status, tc.wantCheckout)
			}
			if len(f.transactions.rows) != 0 || f.issuer.calls != 0 {
				t.Fatal("failure transition must not create transactions or tickets")
			}
			if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != tc.wantEvent {
				t.Fatalf("expected %s event, got %+v", tc.wantEvent, f.emitter.events)
			}

			// replay lands as duplicate no-op
			replay, err := f.svc.Apply(context.Background(), Event{
				SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
				Status:          tc.status,
			})
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if replay != OutcomeDuplicate {
				t.Fatalf("expected duplicate replay, got %s", replay)
			}
		})
	}
}

func TestApplyUnknownStatusLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	outcome, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "PENDING_REVIEW",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	if f.order.Status != enums.OrderStatusPending || f.checkout.Status != enums.CheckoutStatusPending {
		t.Fatal("unknown status must not mutate state")
	}
}

func TestApplyUnknownCheckoutIsIgnored(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	outcome, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: "chk_never_seen",
		Status:          "PAID",
		TransactionID:   "txn_x",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
}

func TestApplyPaidWithoutTransactionIDIsIgnored(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	outcome, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "PAID",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
	if f.order.Status != enums.OrderStatusPending {
		t.Fatal("order must stay pending")
	}
}

func TestApplyRefund(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	// settle first
	if _, err := f.svc.Apply(context.Background(), paidEvent(f)); err != nil {
		t.Fatalf("settle: %v", err)
	}

	outcome, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "REFUNDED",
		TransactionID:   "txn_1",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if f.order.Status != enums.OrderStatusRefunded || f.order.RefundedAt == nil {
		t.Fatalf("order not refunded: %+v", f.order)
	}

	// refunds are one-way and idempotent
	replay, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "REFUNDED",
	})
	if err != nil {
		t.Fatalf("refund replay: %v", err)
	}
	if replay != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", replay)
	}
}

func TestApplyRefundBeforeConfirmIsRejected(t *testing.T) {
	t.Parallel()

	f := newSettlementFixture(t)

	outcome, err := f.svc.Apply(context.Background(), Event{
		SumUpCheckoutID: *f.checkout.SumUpCheckoutID,
		Status:          "REFUNDED",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", outcome)
	}
}
