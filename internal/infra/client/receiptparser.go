// Package client holds HTTP clients for external collaborators.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/infra/resilience"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var clientTracer = otel.Tracer("infra/client")

// ReceiptParser calls the external OCR service that turns stored receipt
// evidence into a structured parse. Calls go through a circuit breaker so a
// degraded parser cannot stall the reconciliation workers.
type ReceiptParser struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

var _ port.ReceiptParser = (*ReceiptParser)(nil)

// NewReceiptParser creates the parser client.
func NewReceiptParser(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ReceiptParser {
	return &ReceiptParser{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("receipt-parser"),
		metrics: metrics,
		logger:  logger,
	}
}

// Parse fetches the structured parse for one receipt reference.
func (c *ReceiptParser) Parse(ctx context.Context, receiptRef string) (*domain.ParsedReceipt, error) {
	ctx, span := clientTracer.Start(ctx, "ReceiptParser.Parse")
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doParse(ctx, receiptRef)
	})
	if err != nil {
		c.metrics.IncrExternalError("receipt_parser")
		c.logger.Warn("receipt parser call failed",
			zap.String("receipt_ref", receiptRef),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "receipt_parser", Err: err}
	}
	return result.(*domain.ParsedReceipt), nil
}

func (c *ReceiptParser) doParse(ctx context.Context, receiptRef string) (*domain.ParsedReceipt, error) {
	endpoint := fmt.Sprintf("%s/v1/parse/%s", c.baseURL, url.PathEscape(receiptRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call receipt parser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("receipt %s not found", receiptRef)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("receipt parser returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed domain.ParsedReceipt
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode parser response: %w", err)
	}
	if parsed.Reference == "" {
		parsed.Reference = receiptRef
	}
	return &parsed, nil
}
