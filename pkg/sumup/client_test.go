package sumup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/rafaelolivas/showbill-backend/pkg/config"
	pkgerrors "github.com/rafaelolivas/showbill-backend/pkg/errors"
	"github.com/rafaelolivas/showbill-backend/pkg/logger"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	cfg := config.SumUpConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		APIBaseURL:   "http://sumup.test",
		AuthBaseURL:  "http://sumup.test",
		RedirectURL:  "http://showbill.test/connect/callback",
		Scopes:       "payments user.profile_readonly",
	}
	client, err := NewClient(cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestExchangeCodeSendsForm(t *testing.T) {
	var capturedForm url.Values
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("parse form: %v", err)
		}
		capturedForm = form
		resp := `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600,"scope":"payments"}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(resp)),
			Header:     http.Header{},
		}, nil
	})

	client := testClient(t, rt)
	token, err := client.ExchangeCode(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if capturedForm.Get("grant_type") != "authorization_code" {
		t.Fatalf("unexpected grant type %q", capturedForm.Get("grant_type"))
	}
	if capturedForm.Get("code") != "auth-code-1" {
		t.Fatalf("unexpected code %q", capturedForm.Get("code"))
	}
	if capturedForm.Get("client_secret") != "secret" {
		t.Fatal("client secret missing from form")
	}
	if token.AccessToken != "at" || token.ExpiresIn != 3600 {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestCreateCheckoutFormatsAmount(t *testing.T) {
	var capturedBody map[string]any
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(req.Body)
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&capturedBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		resp := `{"id":"co_1","status":"PENDING","amount":15.01,"currency":"GBP","checkout_reference":"ref-1"}`
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader(resp)),
			Header:     http.Header{},
		}, nil
	})

	client := testClient(t, rt)
	checkout, err := client.CreateCheckout(context.Background(), CreateCheckoutParams{
		AccessToken:  "access-1",
		AmountPence:  1501,
		Currency:     "GBP",
		Reference:    "ref-1",
		MerchantCode: "MC1234",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if got := capturedBody["amount"].(json.Number).String(); got != "15.01" {
		t.Fatalf("expected amount 15.01, got %s", got)
	}
	if checkout.ID != "co_1" || checkout.Status != "PENDING" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if len(checkout.Raw) == 0 {
		t.Fatal("raw response snapshot missing")
	}
}

func TestUnauthorizedMapsToCredentialError(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader(`{"error":"invalid_grant"}`)),
			Header:     http.Header{},
		}, nil
	})

	client := testClient(t, rt)
	_, err := client.RefreshToken(context.Background(), "stale-refresh")
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized code, got %v", err)
	}
}

func TestGetCheckoutRetriesServerErrors(t *testing.T) {
	attempts := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return &http.Response{
				StatusCode: http.StatusBadGateway,
				Body:       io.NopCloser(strings.NewReader("upstream blip")),
				Header:     http.Header{},
			}, nil
		}
		resp := `{"id":"co_9","status":"PAID","transaction_id":"tx_9","amount":50.00,"currency":"GBP"}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(resp)),
			Header:     http.Header{},
		}, nil
	})

	client := testClient(t, rt)
	checkout, err := client.GetCheckout(context.Background(), "access-1", "co_9")
	if err != nil {
		t.Fatalf("get checkout: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if checkout.TransactionID != "tx_9" {
		t.Fatalf("unexpected transaction id %q", checkout.TransactionID)
	}
}

func TestAmountToPence(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"50.00", 5000},
		{"15.01", 1501},
		{"0.01", 1},
		{"2.5", 250},
	}
	for _, tt := range tests {
		got, err := AmountToPence(json.Number(tt.in))
		if err != nil {
			t.Fatalf("amount %s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("amount %s expected %d pence, got %d", tt.in, tt.want, got)
		}
	}
}
