package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/finledger-go/internal/config"
	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/fraud"
	"github.com/boddenberg/finledger-go/internal/handler"
	"github.com/boddenberg/finledger-go/internal/infra/cache"
	"github.com/boddenberg/finledger-go/internal/infra/client"
	"github.com/boddenberg/finledger-go/internal/infra/memstore"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/infra/queue"
	"github.com/boddenberg/finledger-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TestIntegration_FullFlow drives the whole service through its HTTP surface:
// card issuance, spend attempts across every outcome, asynchronous receipt
// reconciliation against a mock parser, and the spending report.
func TestIntegration_FullFlow(t *testing.T) {
	// --- Mock receipt parser API ---
	parserServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ParsedReceipt{
			MerchantName: "COFFEE SHOP",
			Amount:       decimal.RequireFromString("250.00"),
			Date:         time.Now().UTC(),
			Confidence:   0.97,
		})
	}))
	defer parserServer.Close()

	// --- Build service ---
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := memstore.New(logger)

	engine := fraud.NewEngine(fraud.DefaultRules(fraud.Config{
		MaxAmount:         decimal.RequireFromString("5000.00"),
		MerchantDenylist:  []string{"FRAUD_CORP"},
		VelocityMaxPerMin: 1000,
		VelocityWindow:    time.Minute,
	}), metrics, logger)

	ledgerSvc := service.NewLedgerService(store, engine, metrics, logger)
	reconcileSvc := service.NewReconcileService(store, metrics, logger)
	reportSvc := service.NewReportService(store,
		cache.New[*domain.SpendingReport](time.Minute), metrics, logger)
	parser := client.NewReceiptParser(parserServer.URL, 5*time.Second, metrics, logger)

	jobStore := queue.NewJobStore()
	q := queue.New(queue.Config{BufferSize: 10, Workers: 2, MaxRetries: 1, Backoff: time.Millisecond},
		jobStore, metrics, logger)
	if err := q.Start(context.Background(), func(ctx context.Context, job *domain.ReconcileJob) (*domain.MatchResult, error) {
		return reconcileSvc.MatchReceipt(ctx, domain.ReceiptMatchRequest{
			Receipt:       job.Receipt,
			TransactionID: job.TransactionID,
		})
	}); err != nil {
		t.Fatal(err)
	}
	defer q.Stop(context.Background())

	router := handler.NewRouter(handler.Deps{
		Config:     &config.Config{AuthDisabled: true},
		Ledger:     ledgerSvc,
		Reconciler: reconcileSvc,
		Reports:    reportSvc,
		Parser:     parser,
		Publisher:  q,
		Jobs:       jobStore,
		Metrics:    metrics,
		Logger:     logger,
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	post := func(path string, body map[string]interface{}) (*http.Response, []byte) {
		b, _ := json.Marshal(body)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}
	get := func(path string) (*http.Response, []byte) {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}

	// --- Issue a card ---
	resp, body := post("/v1/cards", map[string]interface{}{
		"card_number":     "4111111111111111",
		"cardholder_name": "Ada Lovelace",
		"spending_limit":  "1000.00",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create card: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var acct domain.AccountSnapshot
	if err := json.Unmarshal(body, &acct); err != nil {
		t.Fatal(err)
	}

	// --- Approved spend ---
	resp, body = post("/v1/transactions", map[string]interface{}{
		"account_id": acct.ID, "amount": "250.00", "merchant_name": "Coffee Shop",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("approved spend: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var approvedTx domain.Transaction
	if err := json.Unmarshal(body, &approvedTx); err != nil {
		t.Fatal(err)
	}
	if approvedTx.Status != domain.TxApproved {
		t.Fatalf("expected approved, got %s", approvedTx.Status)
	}

	// --- Fraud-blocked spend leaves no record ---
	resp, _ = post("/v1/transactions", map[string]interface{}{
		"account_id": acct.ID, "amount": "10.00", "merchant_name": "FRAUD_CORP",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("blocked spend: expected 403, got %d", resp.StatusCode)
	}

	// --- Declined spend persists a record ---
	resp, _ = post("/v1/transactions", map[string]interface{}{
		"account_id": acct.ID, "amount": "900.00", "merchant_name": "Big Vendor",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("declined spend: expected 422, got %d", resp.StatusCode)
	}

	resp, body = get("/v1/transactions?account_id=" + acct.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var listing struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Transactions) != 2 {
		t.Fatalf("expected approved + declined records, got %d", len(listing.Transactions))
	}

	// --- Async receipt reconciliation through the mock parser ---
	resp, body = post("/v1/receipts/match", map[string]interface{}{
		"receipt_ref":    "rcpt-1",
		"transaction_id": approvedTx.ID,
		"async":          true,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("match: expected 202, got %d: %s", resp.StatusCode, body)
	}
	var accepted map[string]string
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatal(err)
	}

	var job domain.ReconcileJob
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body = get("/v1/receipts/status/" + accepted["job_id"])
		if err := json.Unmarshal(body, &job); err != nil {
			t.Fatal(err)
		}
		if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconcile job stuck at %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected completed job, got %s (%s)", job.Status, job.Error)
	}
	if job.Result == nil || !job.Result.Verified {
		t.Fatalf("expected a verified match, got %+v", job.Result)
	}

	resp, body = get("/v1/transactions/" + approvedTx.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d", resp.StatusCode)
	}
	var verified domain.Transaction
	if err := json.Unmarshal(body, &verified); err != nil {
		t.Fatal(err)
	}
	if verified.Status != domain.TxVerified || !verified.ReceiptVerified {
		t.Fatalf("expected verified transaction, got status=%s verified=%v",
			verified.Status, verified.ReceiptVerified)
	}

	// --- Spending report counts only funds that moved ---
	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp, body = get(fmt.Sprintf("/v1/reports/spending?type=summary&start=%s&end=%s", start, end))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var report domain.SpendingReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatal(err)
	}
	if report.Summary == nil {
		t.Fatal("expected summary data")
	}
	if !report.Summary.TotalSpending.Equal(decimal.RequireFromString("250.00")) {
		t.Errorf("expected total 250.00, got %s", report.Summary.TotalSpending)
	}

	// --- Ledger snapshot reflects the processed outcomes ---
	_, body = get("/v1/metrics/ledger")
	var snap observability.LedgerSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Approved != 1 || snap.Declined != 1 || snap.FraudBlocks != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ReconcileVerified != 1 {
		t.Errorf("expected one verified reconciliation, got %d", snap.ReconcileVerified)
	}
}
