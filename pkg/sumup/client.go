package sumup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/rafaelolivas/showbill-backend/pkg/config"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

const (
	tokenPath           = "/token"
	authorizePath       = "/authorize"
	merchantProfilePath = "/v0.1/me/merchant-profile"
	checkoutsPath       = "/v0.1/checkouts"

	errorBodyReadLimit int64 = 4096
	maxRetries               = 3
	retryBaseDelay           = 500 * time.Millisecond
)

var (
	errClientIDRequired     = errors.New("sumup client id is required")
	errClientSecretRequired = errors.New("sumup client secret is required")
	errLoggerRequired       = errors.New("sumup logger is required")
)

// Client wraps the SumUp REST API: OAuth token exchange/refresh, merchant
// profile lookup, and hosted checkouts. SumUp publishes no Go SDK, so the
// wrapper owns auth, timeouts, retry, logging, and error mapping.
type Client struct {
	httpClient   *http.Client
	apiBaseURL   string
	authBaseURL  string
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       string
	logger       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient validates the credentials and builds the SumUp wrapper.
func NewClient(cfg config.SumUpConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, errClientSecretRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		authBaseURL:  strings.TrimRight(cfg.AuthBaseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  strings.TrimSpace(cfg.RedirectURL),
		scopes:       strings.TrimSpace(cfg.Scopes),
		logger:       logg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// AuthorizeURL builds the redirect URL that starts the artist connect flow.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURL)
	q.Set("scope", c.scopes)
	q.Set("state", state)
	return c.authBaseURL + authorizePath + "?" + q.Encode()
}

// TokenResponse carries the OAuth grant returned by SumUp.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// ExchangeCode swaps an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURL)
	return c.tokenRequest(ctx, "exchange_code", form)
}

// RefreshToken swaps a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "refresh token required")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, "refresh_token", form)
}

// ClientCredentials obtains a token for the platform's own account, used when
// a payment is collected on the platform merchant code.
func (c *Client) ClientCredentials(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", c.scopes)
	return c.tokenRequest(ctx, "client_credentials", form)
}

func (c *Client) tokenRequest(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	c.log(ctx, "request", op, map[string]any{"grant_type": form.Get("grant_type")})

	var token TokenResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+tokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.do(req, op, &token)
	})
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sumup returned empty access token")
	}

	c.log(ctx, "response", op, map[string]any{"expires_in": token.ExpiresIn, "scope": token.Scope})
	return &token, nil
}

// MerchantProfile is the subset of the profile lookup the platform stores.
type MerchantProfile struct {
	MerchantCode string `json:"merchant_code"`
	CompanyName  string `json:"company_name"`
	Country      string `json:"country"`
}

// GetMerchantProfile resolves the merchant code behind an access token.
func (c *Client) GetMerchantProfile(ctx context.Context, accessToken string) (*MerchantProfile, error) {
	c.log(ctx, "request", "merchant_profile", nil)

	var profile MerchantProfile
	err := c.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+merchantProfilePath, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return c.do(req, "merchant_profile", &profile)
	})
	if err != nil {
		c.log(ctx, "error", "merchant_profile", map[string]any{"error": err.Error()})
		return nil, err
	}
	if profile.MerchantCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "merchant profile missing merchant code")
	}

	c.log(ctx, "response", "merchant_profile", map[string]any{"merchant_code": profile.MerchantCode})
	return &profile, nil
}

// CreateCheckoutParams describes a hosted checkout creation call.
type CreateCheckoutParams struct {
	AccessToken  string
	AmountPence  int64
	Currency     string
	Reference    string
	Description  string
	MerchantCode string
	ReturnURL    string
}

// Checkout is the processor-side checkout representation.
type Checkout struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Amount            json.Number     `json:"amount"`
	Currency          string          `json:"currency"`
	CheckoutReference string          `json:"checkout_reference"`
	MerchantCode      string          `json:"merchant_code"`
	TransactionID     string          `json:"transaction_id"`
	TransactionCode   string          `json:"transaction_code"`
	CheckoutURL       string          `json:"checkout_url"`
	Raw               json.RawMessage `json:"-"`
}

type createCheckoutRequest struct {
	CheckoutReference string      `json:"checkout_reference"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	MerchantCode      string      `json:"merchant_code"`
	Description       string      `json:"description,omitempty"`
	ReturnURL         string      `json:"return_url,omitempty"`
}

// CreateCheckout opens a checkout with the processor. The call is not
// retried: a failed attempt gets a brand-new reference from the caller so a
// retry can never collide with processor-side idempotency.
func (c *Client) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*Checkout, error) {
	if params.AmountPence <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout amount must be positive")
	}
	if params.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout reference required")
	}
	if params.MerchantCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant code required")
	}

	body := createCheckoutRequest{
		CheckoutReference: params.Reference,
		Amount:            penceToAmount(params.AmountPence),
		Currency:          params.Currency,
		MerchantCode:      params.MerchantCode,
		Description:       params.Description,
		ReturnURL:         params.ReturnURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout request")
	}

	c.log(ctx, "request", "create_checkout", map[string]any{
		"reference":     params.Reference,
		"amount_pence":  params.AmountPence,
		"currency":      params.Currency,
		"merchant_code": params.MerchantCode,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+checkoutsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build checkout request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+params.AccessToken)

	checkout, err := c.doCheckout(req, "create_checkout")
	if err != nil {
		c.log(ctx, "error", "create_checkout", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_checkout", map[string]any{
		"checkout_id": checkout.ID,
		"status":      checkout.Status,
	})
	return checkout, nil
}

// GetCheckout polls the current processor-side state of a checkout.
func (c *Client) GetCheckout(ctx context.Context, accessToken, checkoutID string) (*Checkout, error) {
	if checkoutID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout id required")
	}

	c.log(ctx, "request", "get_checkout", map[string]any{"checkout_id": checkoutID})

	var checkout *Checkout
	err := c.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+checkoutsPath+"/"+url.PathEscape(checkoutID), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		got, err := c.doCheckout(req, "get_checkout")
		if err != nil {
			return err
		}
		checkout = got
		return nil
	})
	if err != nil {
		c.log(ctx, "error", "get_checkout", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_checkout", map[string]any{
		"checkout_id": checkout.ID,
		"status":      checkout.Status,
	})
	return checkout, nil
}

func (c *Client) doCheckout(req *http.Request, op string) (*Checkout, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("sumup %s", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read sumup response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.mapStatusError(resp.StatusCode, raw, op)
	}

	var checkout Checkout
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode sumup checkout")
	}
	checkout.Raw = json.RawMessage(raw)
	return &checkout, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("sumup %s", op))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return c.mapStatusError(resp.StatusCode, raw, op)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode sumup %s response", op))
	}
	return nil
}

func (c *Client) mapStatusError(status int, body []byte, op string) error {
	msg := fmt.Sprintf("sumup %s returned %d", op, status)
	if len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(body)))
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, msg)
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	case status >= 500:
		// surfaced as retryable; withRetry keys off this code
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
}

// withRetry retries transient failures with fibonacci backoff. Only errors
// mapped to CodeDependency are retried; credential and validation failures
// surface immediately.
func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewFibonacci(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) log(ctx context.Context, direction, op string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{
		"provider":  "sumup",
		"direction": direction,
		"operation": op,
	}
	for k, v := range fields {
		merged[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "sumup call")
}

func penceToAmount(pence int64) json.Number {
	return json.Number(decimal.NewFromInt(pence).Shift(-2).StringFixed(2))
}

// AmountToPence converts a processor decimal amount into minor units.
func AmountToPence(amount json.Number) (int64, error) {
	if amount == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
