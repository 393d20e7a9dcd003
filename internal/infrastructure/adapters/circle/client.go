// Package circle implements the API client for Circle's developer-controlled
// wallet endpoints, the custodial processor this service reconciles against.
package circle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinpay-service/coinpay_service/pkg/circuitbreaker"
	"github.com/coinpay-service/coinpay_service/pkg/metrics"
)

// Config holds Circle API client configuration
type Config struct {
	BaseURL string
	APIKey  string
	AppID   string

	// MaxRetries is the number of additional attempts after the first
	MaxRetries int
	// RetryBackoff is the base delay; attempt n waits RetryBackoff * 2^n
	RetryBackoff time.Duration
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
}

// DefaultConfig returns client defaults matching Circle's published limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.circle.com/v1/w3s",
		MaxRetries:   3,
		RetryBackoff: time.Second,
		Timeout:      30 * time.Second,
	}
}

// Client talks to the Circle API with bounded retries and a circuit breaker.
// It knows nothing about scheduling or the ledger.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a Circle API client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.New("circle-api", circuitbreaker.DefaultConfig()),
		logger:     logger,
	}
}

// GetTransactionStatus fetches a single transaction by its Circle id.
// Uses the developer endpoint; user-controlled endpoints do not expose
// developer-wallet transactions.
func (c *Client) GetTransactionStatus(ctx context.Context, externalID string) (*TransactionRecord, error) {
	correlationID := uuid.New().String()
	log := c.logger.With(zap.String("correlation_id", correlationID))

	log.Info("Retrieving transaction status", zap.String("transaction_id", externalID))

	body, err := c.get(ctx, fmt.Sprintf("/developer/transactions/%s", externalID), correlationID)
	if err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_transaction_status", outcomeLabel(err)).Inc()
		return nil, err
	}

	data, err := unwrapEnvelope(body, correlationID)
	if err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_transaction_status", "parse_error").Inc()
		return nil, err
	}

	var payload transactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_transaction_status", "parse_error").Inc()
		return nil, &ParseError{Reason: "malformed transaction object", CorrelationID: correlationID, cause: err}
	}

	rec := payload.toRecord()
	metrics.ProcessorRequestsTotal.WithLabelValues("get_transaction_status", "success").Inc()
	log.Debug("Transaction status retrieved",
		zap.String("transaction_id", rec.TransactionID),
		zap.String("state", rec.State))
	return &rec, nil
}

// GetWalletTransactions fetches all transactions for a developer-controlled
// wallet. The listing is the authoritative source for this wallet type; the
// per-transaction endpoint does not reliably index them.
func (c *Client) GetWalletTransactions(ctx context.Context, externalWalletID string) ([]TransactionRecord, error) {
	correlationID := uuid.New().String()
	log := c.logger.With(zap.String("correlation_id", correlationID))

	log.Info("Listing wallet transactions", zap.String("wallet_id", externalWalletID))

	body, err := c.get(ctx, fmt.Sprintf("/developer/wallets/%s/transactions", externalWalletID), correlationID)
	if err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_wallet_transactions", outcomeLabel(err)).Inc()
		return nil, err
	}

	data, err := unwrapEnvelope(body, correlationID)
	if err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_wallet_transactions", "parse_error").Inc()
		return nil, err
	}

	var payload transactionListPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues("get_wallet_transactions", "parse_error").Inc()
		return nil, &ParseError{Reason: "malformed transaction listing", CorrelationID: correlationID, cause: err}
	}

	records := make([]TransactionRecord, 0, len(payload.Transactions))
	for i := range payload.Transactions {
		records = append(records, payload.Transactions[i].toRecord())
	}

	metrics.ProcessorRequestsTotal.WithLabelValues("get_wallet_transactions", "success").Inc()
	log.Debug("Wallet transactions retrieved",
		zap.String("wallet_id", externalWalletID),
		zap.Int("count", len(records)))
	return records, nil
}

// get executes an authenticated GET with bounded retries inside the breaker.
// Only transport errors and retryable statuses (408, 429, 5xx) are retried;
// any other non-success response fails immediately with an APIError.
func (c *Client) get(ctx context.Context, path, correlationID string) ([]byte, error) {
	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		var err error
		body, err = c.doWithRetry(ctx, path, correlationID)
		return err
	})
	return body, err
}

func (c *Client) doWithRetry(ctx context.Context, path, correlationID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBackoff * (1 << (attempt - 1))
			c.logger.Warn("Circle API request failed, retrying",
				zap.String("correlation_id", correlationID),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.cfg.MaxRetries),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, retryable, err := c.doOnce(ctx, path, correlationID)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, path, correlationID string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build Circle request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Correlation-Id", correlationID)
	if c.cfg.AppID != "" {
		req.Header.Set("X-Circle-App-Id", c.cfg.AppID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("circle request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read Circle response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, false, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body), CorrelationID: correlationID}
	if isRetryableStatus(resp.StatusCode) {
		return nil, true, apiErr
	}

	c.logger.Error("Circle API request failed",
		zap.String("correlation_id", correlationID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("body", string(body)))
	return nil, false, apiErr
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// unwrapEnvelope extracts the "data" object Circle wraps around every payload.
// A missing envelope is a contract mismatch, surfaced as a ParseError rather
// than a silently empty record.
func unwrapEnvelope(body []byte, correlationID string) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Reason: "response is not valid JSON", CorrelationID: correlationID, cause: err}
	}
	if len(env.Data) == 0 {
		return nil, &ParseError{Reason: "response missing data envelope", CorrelationID: correlationID}
	}
	return env.Data, nil
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case *APIError:
		return "api_error"
	case *ParseError:
		return "parse_error"
	default:
		return "transport_error"
	}
}
