// Package extclient implements the ledger, oracle and exchange interfaces
// as JSON-over-HTTP clients against the custody gateway.
package extclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/basketfi/fund-backend/internal/domain"
)

// Config holds the gateway endpoints. Each service can live behind its own
// base URL; a single gateway serving all three works as well.
type Config struct {
	LedgerURL   string
	OracleURL   string
	ExchangeURL string
	AuthToken   string
	Timeout     time.Duration
}

// client is the shared HTTP plumbing.
type client struct {
	http  *http.Client
	token string
}

func newClient(cfg Config) *client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &client{
		http:  &http.Client{Timeout: timeout},
		token: cfg.AuthToken,
	}
}

// call POSTs the request body as JSON and decodes the response into out.
// Amounts travel as decimal strings on the wire.
func (c *client) call(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAmount(op, field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, domain.Errorf(domain.KindLedger, op,
			"gateway returned malformed %s %q", field, s)
	}
	return v, nil
}
