// Package client is a typed HTTP client for the pool daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shieldpool/internal/api"
	"shieldpool/internal/pool"
	"shieldpool/internal/shielded"
)

// StatusError is a non-2xx response. It unwraps to the pool error the
// server reported, so errors.Is works against the poolerr sentinels.
type StatusError struct {
	Status   int
	Response api.ErrorResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Response.Code, e.Response.Message)
}

func (e *StatusError) Unwrap() error { return e.Response.Err() }

// Client talks to one daemon as one caller.
type Client struct {
	base   string
	caller shielded.Address
	http   *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL acting as caller.
func New(baseURL string, caller shielded.Address, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		caller: caller,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a copy of c acting as caller.
func (c *Client) As(caller shielded.Address) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.caller.IsZero() {
		req.Header.Set(api.CallerHeader, c.caller.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		se := &StatusError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&se.Response); err != nil {
			se.Response.Code = "http_error"
			se.Response.Message = http.StatusText(resp.StatusCode)
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func poolPath(id shielded.Digest, suffix string) string {
	return "/v1/pools/" + id.String() + suffix
}

func (c *Client) InitPool(ctx context.Context, req api.InitPoolRequest) (*pool.Pool, error) {
	var p pool.Pool
	if err := c.do(ctx, http.MethodPost, "/v1/pools", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetPool(ctx context.Context, id shielded.Digest) (*pool.Pool, error) {
	var p pool.Pool
	if err := c.do(ctx, http.MethodGet, poolPath(id, ""), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Audit(ctx context.Context, id shielded.Digest) (*pool.AuditReport, error) {
	var r pool.AuditReport
	if err := c.do(ctx, http.MethodGet, poolPath(id, "/audit"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) OpenAccount(ctx context.Context, id shielded.Digest, req api.OpenAccountRequest) (*api.AccountView, error) {
	var v api.AccountView
	if err := c.do(ctx, http.MethodPost, poolPath(id, "/accounts"), req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetAccount fetches owner's account; the server only answers the owner.
func (c *Client) GetAccount(ctx context.Context, id shielded.Digest, owner shielded.Address) (*api.AccountView, error) {
	var v api.AccountView
	if err := c.do(ctx, http.MethodGet, poolPath(id, "/accounts/"+owner.String()), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Shield(ctx context.Context, id shielded.Digest, amount uint64) (*pool.ShieldReceipt, error) {
	var r pool.ShieldReceipt
	if err := c.do(ctx, http.MethodPost, poolPath(id, "/shield"), api.ShieldRequest{Amount: amount}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Transfer(ctx context.Context, id shielded.Digest, req api.TransferRequest) (*api.TransferResponse, error) {
	var r api.TransferResponse
	if err := c.do(ctx, http.MethodPost, poolPath(id, "/transfer"), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Unshield(ctx context.Context, id shielded.Digest, req api.UnshieldRequest) (*pool.UnshieldReceipt, error) {
	var r pool.UnshieldReceipt
	if err := c.do(ctx, http.MethodPost, poolPath(id, "/unshield"), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) NullifierUsed(ctx context.Context, id, nullifier shielded.Digest) (bool, error) {
	var st api.NullifierStatus
	if err := c.do(ctx, http.MethodGet, poolPath(id, "/nullifiers/"+nullifier.String()), nil, &st); err != nil {
		return false, err
	}
	return st.Used, nil
}

func (c *Client) SetFee(ctx context.Context, id shielded.Digest, bps uint16) (*pool.Pool, error) {
	var p pool.Pool
	if err := c.do(ctx, http.MethodPost, poolPath(id, "/admin/fee"), api.SetFeeRequest{FeeBPS: bps}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Pause(ctx context.Context, id shielded.Digest) (*pool.Pool, error) {
	return c.admin(ctx, id, "/admin/pause")
}

func (c *Client) Unpause(ctx context.Context, id shielded.Digest) (*pool.Pool, error) {
	return c.admin(ctx, id, "/admin/unpause")
}

func (c *Client) admin(ctx context.Context, id shielded.Digest, path string) (*pool.Pool, error) {
	var p pool.Pool
	if err := c.do(ctx, http.MethodPost, poolPath(id, path), struct{}{}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Faucet credits public value to addr on development daemons.
func (c *Client) Faucet(ctx context.Context, addr shielded.Address, amount uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/faucet", api.FaucetRequest{Address: addr.String(), Amount: amount}, nil)
}

func (c *Client) Health(ctx context.Context) (*api.HealthCheckResponse, error) {
	var h api.HealthCheckResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
