package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/rafaelolivas/showbill-backend/pkg/errors"

	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox"
	"github.com/rafaelolivas/showbill-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Credential is the persisted shape of a token grant.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// StatusView is what the connect status endpoint returns.
type StatusView struct {
	Status       enums.ConnectionStatus `json:"status"`
	MerchantCode string                 `json:"merchant_code,omitempty"`
	ConnectedAt  *time.Time             `json:"connected_at,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	LastError    *string                `json:"last_error,omitempty"`
}

// AccessDecision classifies whether a connection can take payments.
type AccessDecision string

const (
	AccessAllowed        AccessDecision = "allowed"
	AccessNotConnected   AccessDecision = "not_connected"
	AccessNeedsReconnect AccessDecision = "needs_reconnect"
)

// Access classifies the connection without touching the database. Expired and
// errored connections both require the artist to re-run the connect flow; a
// merely stale access token is not a reconnect case, the token layer refreshes
// those on demand.
func Access(conn *models.ArtistConnection) AccessDecision {
	if conn == nil || conn.Status == enums.ConnectionStatusNotConnected {
		return AccessNotConnected
	}
	if conn.Status == enums.ConnectionStatusExpired || conn.Status == enums.ConnectionStatusError {
		return AccessNeedsReconnect
	}
	return AccessAllowed
}

// ServiceParams groups dependencies for the connections service.
type ServiceParams struct {
	DB     txRunner
	Repo   Repository
	Outbox outbox.Emitter
	Logger *logger.Logger
}

// Service owns the artist connection lifecycle.
type Service struct {
	db     txRunner
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService builds a connections service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:     params.DB,
		repo:   params.Repo,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

// Status reports the artist's connection state. Artists with no row at all
// read as not_connected rather than a lookup failure.
func (s *Service) Status(ctx context.Context, artistID uuid.UUID) (StatusView, error) {
	conn, err := s.repo.FindByArtistID(ctx, artistID)
	if err != nil {
		return StatusView{}, apperrors.Wrap(apperrors.CodeInternal, err, "load connection")
	}
	if conn == nil {
		return StatusView{Status: enums.ConnectionStatusNotConnected}, nil
	}
	return StatusView{
		Status:       conn.Status,
		MerchantCode: conn.MerchantCode,
		ConnectedAt:  conn.ConnectedAt,
		ExpiresAt:    conn.ExpiresAt,
		LastError:    conn.LastError,
	}, nil
}

// Establish stores a fresh credential for the artist and marks the connection
// connected. Reconnecting an already-connected artist replaces the credential.
func (s *Service) Establish(ctx context.Context, artistID uuid.UUID, cred Credential, merchantCode string) (*models.ArtistConnection, error) {
	if merchantCode == "" {
		return nil, apperrors.New(apperrors.CodeDependency, "merchant profile has no merchant code")
	}

	now := time.Now().UTC()
	expiresAt := cred.ExpiresAt
	conn := &models.ArtistConnection{
		ArtistID:     artistID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Scope:        cred.Scope,
		MerchantCode: merchantCode,
		Status:       enums.ConnectionStatusConnected,
		ExpiresAt:    &expiresAt,
		ConnectedAt:  &now,
		LastError:    nil,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Upsert(ctx, conn); err != nil {
			return fmt.Errorf("upsert connection: %w", err)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConnectionEstablished,
			AggregateType: enums.AggregateConnection,
			AggregateID:   artistID,
			Data: payloads.ConnectionChangedEvent{
				ArtistID:     artistID,
				MerchantCode: merchantCode,
				Status:       enums.ConnectionStatusConnected.String(),
				At:           now,
			},
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "establish connection")
	}

	s.logg.Info(s.logg.WithArtistID(ctx, artistID.String()), "artist connected")
	return conn, nil
}

// Disconnect drops the stored credential. Disconnecting an artist who never
// connected is a no-op.
func (s *Service) Disconnect(ctx context.Context, artistID uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		conn, err := repo.FindByArtistIDForUpdate(ctx, artistID)
		if err != nil {
			return fmt.Errorf("load connection: %w", err)
		}
		if conn == nil || conn.Status == enums.ConnectionStatusNotConnected {
			return nil
		}

		now := time.Now().UTC()
		conn.AccessToken = ""
		conn.RefreshToken = ""
		conn.TokenType = ""
		conn.Scope = ""
		conn.Status = enums.ConnectionStatusNotConnected
		conn.ExpiresAt = nil
		conn.ConnectedAt = nil
		conn.LastError = nil
		if err := repo.Update(ctx, conn); err != nil {
			return fmt.Errorf("clear connection: %w", err)
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConnectionRevoked,
			AggregateType: enums.AggregateConnection,
			AggregateID:   artistID,
			Data: payloads.ConnectionChangedEvent{
				ArtistID: artistID,
				Status:   enums.ConnectionStatusNotConnected.String(),
				At:       now,
			},
		})
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "disconnect artist")
	}

	s.logg.Info(s.logg.WithArtistID(ctx, artistID.String()), "artist disconnected")
	return nil
}

// MarkReconnectNeeded flips the connection into the error state after an
// unrecoverable token failure and asks notification consumers to prompt the
// artist. New checkouts for the artist stop until they reconnect.
func (s *Service) MarkReconnectNeeded(ctx context.Context, artistID uuid.UUID, reason string) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		conn, err := repo.FindByArtistIDForUpdate(ctx, artistID)
		if err != nil {
			return fmt.Errorf("load connection: %w", err)
		}
		if conn == nil {
			return nil
		}
		if conn.Status == enums.ConnectionStatusError {
			// already flagged; don't spam the notification topic
			return nil
		}

		now := time.Now().UTC()
		conn.Status = enums.ConnectionStatusError
		conn.LastError = &reason
		if err := repo.Update(ctx, conn); err != nil {
			return fmt.Errorf("flag connection: %w", err)
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConnectionReconnectNeeded,
			AggregateType: enums.AggregateConnection,
			AggregateID:   artistID,
			Data: payloads.ReconnectNeededEvent{
				ArtistID: artistID,
				Reason:   reason,
				At:       now,
			},
		})
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "mark reconnect needed")
	}

	s.logg.Warn(s.logg.WithArtistID(ctx, artistID.String()), "artist connection needs reconnect: "+reason)
	return nil
}

// RequireChargeable loads the artist's connection and rejects anything that
// cannot take a payment right now.
func (s *Service) RequireChargeable(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	conn, err := s.repo.FindByArtistID(ctx, artistID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "load connection")
	}

	switch Access(conn) {
	case AccessAllowed:
		return conn, nil
	case AccessNeedsReconnect:
		return nil, apperrors.New(apperrors.CodeStateConflict, "artist payment connection needs to be reconnected")
	default:
		return nil, apperrors.New(apperrors.CodeStateConflict, "artist has not connected a payment account")
	}
}
