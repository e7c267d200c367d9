package deriv

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuthorizeResult is the authorize payload of a successful authorize call.
type AuthorizeResult struct {
	Email       string    `json:"email"`
	LoginID     string    `json:"loginid"`
	Currency    string    `json:"currency"`
	Fullname    string    `json:"fullname"`
	Balance     float64   `json:"balance"`
	IsVirtual   int       `json:"is_virtual"`
	AccountList []Account `json:"account_list"`
}

// Account is one entry of an account_list response.
type Account struct {
	LoginID         string  `json:"loginid"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	AccountType     string  `json:"account_type"`
	AccountCategory string  `json:"account_category"`
	IsVirtual       int     `json:"is_virtual"`
	IsDisabled      int     `json:"is_disabled"`
}

// BalanceResult is the balance payload for account "all".
type BalanceResult struct {
	Balance  float64                   `json:"balance"`
	Currency string                    `json:"currency"`
	LoginID  string                    `json:"loginid"`
	Accounts map[string]AccountBalance `json:"accounts"`
}

// AccountBalance is one account inside a balance "all" response.
type AccountBalance struct {
	Balance         float64 `json:"balance"`
	Currency        string  `json:"currency"`
	DemoAccount     int     `json:"demo_account"`
	Status          int     `json:"status"`
	Type            string  `json:"type"`
	ConvertedAmount float64 `json:"converted_amount"`
}

// Authorize authenticates the connection with an API token.
func (c *Client) Authorize(ctx context.Context, token string) (AuthorizeResult, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var out AuthorizeResult
	resp, err := c.Send(ctx, Request{"authorize": token})
	if err != nil {
		return out, fmt.Errorf("authorize: %w", err)
	}
	if err := resp.Decode("authorize", &out); err != nil {
		return out, fmt.Errorf("authorize: %w", err)
	}
	return out, nil
}

// GetAccountBalance authorizes with token and fetches the balance of all accounts.
func (c *Client) GetAccountBalance(ctx context.Context, token string) (BalanceResult, error) {
	var out BalanceResult
	if _, err := c.Authorize(ctx, token); err != nil {
		return out, err
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.Send(ctx, Request{"balance": 1, "account": "all"})
	if err != nil {
		return out, fmt.Errorf("balance: %w", err)
	}
	if err := resp.Decode("balance", &out); err != nil {
		return out, fmt.Errorf("balance: %w", err)
	}
	return out, nil
}

// GetAccountList authorizes with token and lists the linked accounts.
func (c *Client) GetAccountList(ctx context.Context, token string) ([]Account, error) {
	if _, err := c.Authorize(ctx, token); err != nil {
		return nil, err
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.Send(ctx, Request{"account_list": 1})
	if err != nil {
		return nil, fmt.Errorf("account_list: %w", err)
	}
	var out []Account
	if err := resp.Decode("account_list", &out); err != nil {
		return nil, fmt.Errorf("account_list: %w", err)
	}
	return out, nil
}

// SubscribeTicks subscribes to the tick stream of symbol. onTick receives the
// raw tick object of every push; pushes without a tick are logged and skipped.
func (c *Client) SubscribeTicks(symbol string, onTick func(json.RawMessage)) (int64, error) {
	return c.Subscribe(Request{"ticks": symbol, "subscribe": 1}, func(resp Response) {
		if err := resp.Err(); err != nil {
			c.logger.Warn("DerivClient: tick subscription error", "symbol", symbol, "error", err)
			return
		}
		var tick json.RawMessage
		if err := resp.Decode("tick", &tick); err != nil {
			return
		}
		onTick(tick)
	})
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}
