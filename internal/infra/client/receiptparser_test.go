package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/client"
	"github.com/boddenberg/finledger-go/internal/infra/observability"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newParser(baseURL string) *client.ReceiptParser {
	return client.NewReceiptParser(baseURL, 2*time.Second, observability.NewMetrics(), zap.NewNop())
}

func TestParse_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/parse/rcpt-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ParsedReceipt{
			MerchantName: "COFFEE SHOP",
			Amount:       decimal.RequireFromString("42.50"),
			Confidence:   0.98,
		})
	}))
	defer srv.Close()

	parsed, err := newParser(srv.URL).Parse(context.Background(), "rcpt-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.MerchantName != "COFFEE SHOP" {
		t.Errorf("expected merchant COFFEE SHOP, got %q", parsed.MerchantName)
	}
	if !parsed.Amount.Equal(decimal.RequireFromString("42.50")) {
		t.Errorf("expected amount 42.50, got %s", parsed.Amount)
	}
	if parsed.Reference != "rcpt-1" {
		t.Errorf("expected reference backfilled from the request, got %q", parsed.Reference)
	}
}

func TestParse_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newParser(srv.URL).Parse(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for missing receipt")
	}
	var external *domain.ErrExternalService
	if !errors.As(err, &external) {
		t.Fatalf("expected ErrExternalService, got %T", err)
	}
}

func TestParse_ServerErrorOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	parser := newParser(srv.URL)
	for i := 0; i < 6; i++ {
		if _, err := parser.Parse(context.Background(), "rcpt-1"); err == nil {
			t.Fatal("expected error from failing upstream")
		}
	}
	// The breaker is now open; calls fail without reaching the server.
	if _, err := parser.Parse(context.Background(), "rcpt-1"); err == nil {
		t.Fatal("expected breaker-open error")
	}
}
