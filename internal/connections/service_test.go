package connections

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRepo struct {
	conn    *models.ArtistConnection
	upserts []*models.ArtistConnection
	updates []*models.ArtistConnection
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Upsert(ctx context.Context, conn *models.ArtistConnection) error {
	s.upserts = append(s.upserts, conn)
	s.conn = conn
	return nil
}

func (s *stubRepo) Update(ctx context.Context, conn *models.ArtistConnection) error {
	s.updates = append(s.updates, conn)
	s.conn = conn
	return nil
}

func (s *stubRepo) FindByArtistID(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	return s.conn, nil
}

func (s *stubRepo) FindByArtistIDForUpdate(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	return s.conn, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func newTestService(t *testing.T, repo Repository, emitter outbox.Emitter) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:     stubTxRunner{},
		Repo:   repo,
		Outbox: emitter,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestStatusNotConnectedWhenMissing(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &stubRepo{}, &stubEmitter{})

	view, err := svc.Status(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != enums.ConnectionStatusNotConnected {
		t.Fatalf("expected not_connected, got %s", view.Status)
	}
}

func TestEstablishStoresCredentialAndEmits(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{}
	emitter := &stubEmitter{}
	svc := newTestService(t, repo, emitter)

	artistID := uuid.New()
	expires := time.Now().Add(time.Hour)
	conn, err := svc.Establish(context.Background(), artistID, Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		Scope:        "payments",
		ExpiresAt:    expires,
	}, "M-CODE")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	if conn.Status != enums.ConnectionStatusConnected {
		t.Fatalf("expected connected, got %s", conn.Status)
	}
	if conn.MerchantCode != "M-CODE" {
		t.Fatalf("unexpected merchant code %q", conn.MerchantCode)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(repo.upserts))
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventConnectionEstablished {
		t.Fatalf("expected connection_established event, got %+v", emitter.events)
	}
}

func TestEstablishRejectsEmptyMerchantCode(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &stubRepo{}, &stubEmitter{})

	_, err := svc.Establish(context.Background(), uuid.New(), Credential{AccessToken: "at"}, "")
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestDisconnectClearsCredential(t *testing.T) {
	t.Parallel()

	artistID := uuid.New()
	now := time.Now()
	repo := &stubRepo{conn: &models.ArtistConnection{
		ArtistID:     artistID,
		AccessToken:  "at",
		RefreshToken: "rt",
		MerchantCode: "M-CODE",
		Status:       enums.ConnectionStatusConnected,
		ConnectedAt:  &now,
	}}
	emitter := &stubEmitter{}
	svc := newTestService(t, repo, emitter)

	if err := svc.Disconnect(context.Background(), artistID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if repo.conn.AccessToken != "" || repo.conn.RefreshToken != "" {
		t.Fatalf("tokens not cleared: %+v", repo.conn)
	}
	if repo.conn.Status != enums.ConnectionStatusNotConnected {
		t.Fatalf("expected not_connected, got %s", repo.conn.Status)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventConnectionRevoked {
		t.Fatalf("expected connection_revoked event, got %+v", emitter.events)
	}
}

func TestDisconnectMissingConnectionIsNoop(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	svc := newTestService(t, &stubRepo{}, emitter)

	if err := svc.Disconnect(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %+v", emitter.events)
	}
}

func TestMarkReconnectNeededEmitsOnce(t *testing.T) {
	t.Parallel()

	artistID := uuid.New()
	repo := &stubRepo{conn: &models.ArtistConnection{
		ArtistID: artistID,
		Status:   enums.ConnectionStatusConnected,
	}}
	emitter := &stubEmitter{}
	svc := newTestService(t, repo, emitter)

	if err := svc.MarkReconnectNeeded(context.Background(), artistID, "refresh rejected"); err != nil {
		t.Fatalf("MarkReconnectNeeded: %v", err)
	}
	if repo.conn.Status != enums.ConnectionStatusError {
		t.Fatalf("expected error status, got %s", repo.conn.Status)
	}
	if repo.conn.LastError == nil || *repo.conn.LastError != "refresh rejected" {
		t.Fatalf("last error not recorded: %+v", repo.conn.LastError)
	}

	// second call is idempotent
	if err := svc.MarkReconnectNeeded(context.Background(), artistID, "refresh rejected"); err != nil {
		t.Fatalf("MarkReconnectNeeded again: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType != enums.EventConnectionReconnectNeeded {
		t.Fatalf("unexpected event type %s", emitter.events[0].EventType)
	}
}

func TestRequireChargeable(t *testing.T) {
	t.Parallel()

	artistID := uuid.New()

	cases := []struct {
		name     string
		conn     *models.ArtistConnection
		wantCode pkgerrors.Code
	}{
		{name: "no connection", conn: nil, wantCode: pkgerrors.CodeStateConflict},
		{
			name:     "connected",
			conn:     &models.ArtistConnection{ArtistID: artistID, Status: enums.ConnectionStatusConnected, MerchantCode: "M"},
			wantCode: "",
		},
		{
			name:     "expired",
			conn:     &models.ArtistConnection{ArtistID: artistID, Status: enums.ConnectionStatusExpired},
			wantCode: pkgerrors.CodeStateConflict,
		},
		{
			name:     "errored",
			conn:     &models.ArtistConnection{ArtistID: artistID, Status: enums.ConnectionStatusError},
			wantCode: pkgerrors.CodeStateConflict,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := newTestService(t, &stubRepo{conn: tc.conn}, &stubEmitter{})
			conn, err := svc.RequireChargeable(context.Background(), artistID)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if conn == nil {
					t.Fatal("expected connection")
				}
				return
			}
			appErr := pkgerrors.As(err)
			if appErr == nil || appErr.Code() != tc.wantCode {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
}
