package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/domain/payout"
)

var ErrRejected = errors.New("transfer rejected by rail")

// HTTPClient talks to a JSON payment rail.
type HTTPClient struct {
	baseURL string
	token   string
	signer  *signer
	client  *http.Client
	logger  zerolog.Logger
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("service", "rail").Logger(),
	}
}

// WithSigner adds an HMAC signature header to every request.
func (c *HTTPClient) WithSigner(keyID string, key []byte) *HTTPClient {
	c.signer = &signer{keyID: keyID, key: key, now: time.Now}
	return c
}

type transferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	AccountID      string `json:"account_id"`
	Amount         int64  `json:"amount"`
}

type balanceResponse struct {
	Available *int64 `json:"available"`
}

// Transfer submits one transfer. Any non-2xx answer is a failure.
func (c *HTTPClient) Transfer(ctx context.Context, req payout.TransferRequest) error {
	body, err := json.Marshal(transferRequest{
		IdempotencyKey: req.IdempotencyKey,
		AccountID:      req.AccountID,
		Amount:         req.Amount,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/transfers", body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	c.logger.Debug().
		Str("account_id", req.AccountID).
		Int64("amount", req.Amount).
		Int("status_code", resp.StatusCode).
		Msg("transfer attempted")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// AvailableBalance reads the pool size from the rail.
func (c *HTTPClient) AvailableBalance(ctx context.Context) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("balance request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var out balanceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode balance: %w", err)
	}
	if out.Available == nil {
		return 0, errors.New("balance response missing available")
	}
	return *out.Available, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create rail request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.signer != nil {
		sig, err := c.signer.sign(method, path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set(SignatureHeader, sig)
	}
	return req, nil
}
