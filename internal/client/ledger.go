// Package client 外部服务客户端
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plazmica10/fitness-center/pkg/tracing"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMemberNotFound      = errors.New("member not found")
	ErrLedgerUnavailable   = errors.New("ledger service unavailable")
)

type tokenKey struct{}

// ContextWithToken 把调用方的 bearer token 放进 context，
// 账本请求优先透传它，没有时才用服务自身的 token。
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(tokenKey{}).(string)
	return v
}

// LedgerClient 会员余额账本客户端。扣款/退款金额单位为分。
type LedgerClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewLedgerClient(baseURL, token string, timeout time.Duration) *LedgerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LedgerClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type balanceRequest struct {
	AmountCents int64 `json:"amountCents"`
}

type BalanceResponse struct {
	MemberID     string `json:"memberId"`
	BalanceCents int64  `json:"balanceCents"`
}

// Deduct 扣除会员余额
func (c *LedgerClient) Deduct(ctx context.Context, memberID string, amountCents int64) (*BalanceResponse, error) {
	return c.post(ctx, "/users/"+memberID+"/balance/deduct", amountCents)
}

// Refund 退回会员余额（补偿动作）
func (c *LedgerClient) Refund(ctx context.Context, memberID string, amountCents int64) (*BalanceResponse, error) {
	return c.post(ctx, "/users/"+memberID+"/balance/add", amountCents)
}

func (c *LedgerClient) post(ctx context.Context, path string, amountCents int64) (*BalanceResponse, error) {
	jsonBody, err := json.Marshal(&balanceRequest{AmountCents: amountCents})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token := tokenFromContext(ctx)
	if token == "" {
		token = c.token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	tracing.InjectHTTP(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrInsufficientBalance
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrMemberNotFound
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrLedgerUnavailable, resp.StatusCode, respBody)
	}

	var out BalanceResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
