package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rafaelolivas/showbill-backend/api/responses"
	"github.com/rafaelolivas/showbill-backend/internal/connections"
	"github.com/rafaelolivas/showbill-backend/pkg/db/models"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

type ConnectBeginner interface {
	BeginConnect(ctx context.Context, artistID uuid.UUID) (string, error)
}

type ConnectCompleter interface {
	CompleteConnect(ctx context.Context, state, code string) (*models.ArtistConnection, error)
}

type ConnectionStatusService interface {
	Status(ctx context.Context, artistID uuid.UUID) (connections.StatusView, error)
	Disconnect(ctx context.Context, artistID uuid.UUID) error
}

// ConnectStart returns the processor authorization URL the artist should be
// sent to. The state nonce binding the callback to this artist is stored
// server-side before the URL is handed out.
func ConnectStart(svc ConnectBeginner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		artistID, err := artistIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithArtistID(ctx, artistID.String())

		authorizeURL, err := svc.BeginConnect(ctx, artistID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"authorize_url": authorizeURL})
	}
}

// ConnectCallback completes the OAuth round trip. SumUp redirects here with
// either code+state or an error pair when the artist declined.
func ConnectCallback(svc ConnectCompleter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		query := r.URL.Query()

		if procErr := query.Get("error"); procErr != "" {
			description := query.Get("error_description")
			if description == "" {
				description = procErr
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization declined: "+description))
			return
		}

		state := query.Get("state")
		code := query.Get("code")
		if state == "" || code == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "code and state are required"))
			return
		}

		conn, err := svc.CompleteConnect(ctx, state, code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"artist_id":     conn.ArtistID,
			"merchant_code": conn.MerchantCode,
			"status":        conn.Status,
		})
	}
}

// ConnectStatus reports whether the artist currently holds a usable
// processor connection.
func ConnectStatus(svc ConnectionStatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		artistID, err := artistIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithArtistID(ctx, artistID.String())

		view, err := svc.Status(ctx, artistID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ConnectDisconnect revokes the stored credential. Disconnecting an artist
// who was never connected succeeds quietly.
func ConnectDisconnect(svc ConnectionStatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		artistID, err := artistIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithArtistID(ctx, artistID.String())

		if err := svc.Disconnect(ctx, artistID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "disconnected"})
	}
}

// artistIDFromRequest reads the artist identity header the gateway injects
// after authenticating the artist. Identity management itself lives upstream.
func artistIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Artist-Id")
	if raw == "" {
		raw = r.URL.Query().Get("artist_id")
	}
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "artist identity missing")
	}
	artistID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid artist id")
	}
	return artistID, nil
}
