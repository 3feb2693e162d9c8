package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/pkg/config"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	"github.com/rafaelolivas/showbill-backend/pkg/enums"
	apperrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
	"github.com/rafaelolivas/showbill-backend/pkg/redis"
	"github.com/rafaelolivas/showbill-backend/pkg/sumup"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type processorAuth interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*sumup.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*sumup.TokenResponse, error)
	ClientCredentials(ctx context.Context) (*sumup.TokenResponse, error)
	GetMerchantProfile(ctx context.Context, accessToken string) (*sumup.MerchantProfile, error)
}

type connectionWriter interface {
	Establish(ctx context.Context, artistID uuid.UUID, cred connections.Credential, merchantCode string) (*models.ArtistConnection, error)
	MarkReconnectNeeded(ctx context.Context, artistID uuid.UUID, reason string) error
	RequireChargeable(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error)
}

// ServiceParams groups dependencies for the token service.
type ServiceParams struct {
	DB          txRunner
	Repo        connections.Repository
	Connections connectionWriter
	Processor   processorAuth
	Nonces      redis.StateNonceStore
	Payments    config.PaymentsConfig
	Logger      *logger.Logger
}

// Service owns the OAuth handshake and keeps access tokens fresh.
type Service struct {
	db       txRunner
	repo     connections.Repository
	conns    connectionWriter
	proc     processorAuth
	nonces   redis.StateNonceStore
	payments config.PaymentsConfig
	logg     *logger.Logger

	refreshGroup singleflight.Group

	platformMu      sync.Mutex
	platformToken   string
	platformExpires time.Time
}

// NewService builds a token service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Connections == nil {
		return nil, errors.New("connections service is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor client is required")
	}
	if params.Nonces == nil {
		return nil, errors.New("nonce store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		conns:    params.Connections,
		proc:     params.Processor,
		nonces:   params.Nonces,
		payments: params.Payments,
		logg:     params.Logger,
	}, nil
}

// BeginConnect mints a single-use state nonce bound to the artist and returns
// the processor authorize URL the artist's browser should be sent to.
func (s *Service) BeginConnect(ctx context.Context, artistID uuid.UUID) (string, error) {
	state := uuid.NewString()
	if err := s.nonces.PutStateNonce(ctx, state, artistID.String(), s.payments.StateNonceTTL); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "store state nonce")
	}
	return s.proc.AuthorizeURL(state), nil
}

// CompleteConnect consumes the state nonce and finishes the code exchange.
// The nonce is deleted on first read, so a replayed callback fails closed.
func (s *Service) CompleteConnect(ctx context.Context, state, code string) (*models.ArtistConnection, error) {
	if state == "" || code == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "state and code are required")
	}

	owner, found, err := s.nonces.TakeStateNonce(ctx, state)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "consume state nonce")
	}
	if !found {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "unknown or expired state")
	}
	artistID, err := uuid.Parse(owner)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "state nonce owner is not an artist id")
	}

	token, err := s.proc.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := s.proc.GetMerchantProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return s.conns.Establish(ctx, artistID, credentialFromToken(token), profile.MerchantCode)
}

// EnsureFresh returns an access token guaranteed to outlive the configured
// skew window, refreshing it first when needed. Concurrent callers for the
// same artist collapse onto one refresh.
func (s *Service) EnsureFresh(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	conn, err := s.conns.RequireChargeable(ctx, artistID)
	if err != nil {
		return nil, err
	}
	if s.isFresh(conn) {
		return conn, nil
	}

	result, err, _ := s.refreshGroup.Do(artistID.String(), func() (any, error) {
		return s.refresh(ctx, artistID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.ArtistConnection), nil
}

func (s *Service) isFresh(conn *models.ArtistConnection) bool {
	if conn.ExpiresAt == nil {
		return false
	}
	return conn.ExpiresAt.After(time.Now().Add(s.payments.TokenSkew))
}

// refresh calls the processor with no transaction open, then persists the new
// credential in a short row-locked transaction. The token call can spend
// seconds in retry backoff, so holding the row across it would serialize
// every checkout for the artist behind the processor.
func (s *Service) refresh(ctx context.Context, artistID uuid.UUID) (*models.ArtistConnection, error) {
	conn, err := s.repo.FindByArtistID(ctx, artistID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || conn.Status != enums.ConnectionStatusConnected {
		return nil, apperrors.New(apperrors.CodeStateConflict, "artist payment connection is not usable")
	}
	// another caller may have refreshed between the freshness check and here
	if s.isFresh(conn) {
		return conn, nil
	}

	token, err := s.proc.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if appErr := apperrors.As(err); appErr != nil && appErr.Code() == apperrors.CodeUnauthorized {
			// the grant itself is dead; flag the connection and stop new checkouts
			if markErr := s.conns.MarkReconnectNeeded(ctx, artistID, "token refresh rejected by processor"); markErr != nil {
				s.logg.Error(ctx, "failed to flag connection after refresh rejection", markErr)
			}
			return nil, apperrors.New(apperrors.CodeStateConflict, "artist payment connection needs to be reconnected")
		}
		return nil, err
	}
	cred := credentialFromToken(token)

	var refreshed *models.ArtistConnection
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByArtistIDForUpdate(ctx, artistID)
		if err != nil {
			return fmt.Errorf("reload connection: %w", err)
		}
		if current == nil || current.Status != enums.ConnectionStatusConnected {
			return apperrors.New(apperrors.CodeStateConflict, "artist payment connection is not usable")
		}
		// a refresh that landed first wins; ours is discarded
		if s.isFresh(current) {
			refreshed = current
			return nil
		}

		current.AccessToken = cred.AccessToken
		if cred.RefreshToken != "" {
			current.RefreshToken = cred.RefreshToken
		}
		current.TokenType = cred.TokenType
		if cred.Scope != "" {
			current.Scope = cred.Scope
		}
		expiresAt := cred.ExpiresAt
		current.ExpiresAt = &expiresAt
		current.LastError = nil
		if err := repo.Update(ctx, current); err != nil {
			return fmt.Errorf("store refreshed token: %w", err)
		}
		refreshed = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// PlatformToken returns a token for the platform's own merchant account,
// cached in-process until it nears expiry.
func (s *Service) PlatformToken(ctx context.Context) (string, error) {
	s.platformMu.Lock()
	defer s.platformMu.Unlock()

	if s.platformToken != "" && s.platformExpires.After(time.Now().Add(s.payments.TokenSkew)) {
		return s.platformToken, nil
	}

	token, err := s.proc.ClientCredentials(ctx)
	if err != nil {
		return "", err
	}
	s.platformToken = token.AccessToken
	s.platformExpires = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return s.platformToken, nil
}

func credentialFromToken(token *sumup.TokenResponse) connections.Credential {
	return connections.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
}
