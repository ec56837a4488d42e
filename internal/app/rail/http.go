package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/tidwall/gjson"
)

// HTTPRail drives a remote payment rail service over JSON/HTTP.
type HTTPRail struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var (
	_ PaymentRail = (*HTTPRail)(nil)
	_ Refunder    = (*HTTPRail)(nil)
)

// NewHTTPRail constructs a rail client for the given base endpoint.
func NewHTTPRail(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPRail, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rail endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse rail endpoint: %w", err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("payment-rail")
	}
	return &HTTPRail{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (r *HTTPRail) Pull(ctx context.Context, currency, from string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	_, err := r.do(ctx, http.MethodPost, "v1/transfers/pull", map[string]string{
		"currency": currency,
		"from":     from,
		"amount":   amount.String(),
	})
	return err
}

func (r *HTTPRail) Push(ctx context.Context, currency, to string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	_, err := r.do(ctx, http.MethodPost, "v1/transfers/push", map[string]string{
		"currency": currency,
		"to":       to,
		"amount":   amount.String(),
	})
	return err
}

// Refund reverses a pull on the remote rail, restoring the payer's allowance.
func (r *HTTPRail) Refund(ctx context.Context, currency, to string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	_, err := r.do(ctx, http.MethodPost, "v1/transfers/refund", map[string]string{
		"currency": currency,
		"to":       to,
		"amount":   amount.String(),
	})
	return err
}

func (r *HTTPRail) Custody(ctx context.Context, currency string) (*big.Int, error) {
	body, err := r.do(ctx, http.MethodGet, "v1/custody?currency="+url.QueryEscape(currency), nil)
	if err != nil {
		return nil, err
	}
	raw := gjson.GetBytes(body, "balance").String()
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("rail returned malformed custody balance %q", raw)
	}
	return balance, nil
}

func (r *HTTPRail) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	target := r.endpoint.ResolveReference(ref)

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode rail request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build rail request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if key := IdempotencyKey(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rail request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read rail response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, r.decodeFailure(resp.StatusCode, body)
	}
	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "settled" && status != "ok" {
		return nil, r.decodeFailure(resp.StatusCode, body)
	}
	return body, nil
}

func (r *HTTPRail) decodeFailure(status int, body []byte) error {
	code := gjson.GetBytes(body, "error.code").String()
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	var sentinel error
	switch code {
	case "insufficient_funds":
		sentinel = ErrInsufficientFunds
	case "insufficient_allowance":
		sentinel = ErrInsufficientAllowance
	case "insufficient_custody":
		sentinel = ErrInsufficientCustody
	case "invalid_amount":
		sentinel = ErrInvalidAmount
	}

	r.log.WithField("status", status).WithField("code", code).Warn("payment rail rejected transfer")
	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, message)
	}
	return fmt.Errorf("rail request failed with status %d: %s", status, message)
}
