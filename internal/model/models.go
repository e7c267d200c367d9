package model

import (
	"encoding/json"
	"time"
)

// Symbol is one entry of the instrument catalog.
type Symbol struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Tick represents a single price observation pushed by the upstream API.
type Tick struct {
	Symbol  string  `json:"symbol"`
	Quote   float64 `json:"quote"`
	Bid     float64 `json:"bid,omitempty"`
	Ask     float64 `json:"ask,omitempty"`
	Epoch   int64   `json:"epoch"`
	ID      string  `json:"id,omitempty"`
	PipSize int     `json:"pip_size,omitempty"`
}

// ParseTick decodes a raw tick object as forwarded on the downstream channel.
func ParseTick(raw []byte) (Tick, error) {
	var t Tick
	err := json.Unmarshal(raw, &t)
	return t, err
}

// DerivLink is the linked trading account of a user.
type DerivLink struct {
	LoginID  string    `json:"loginid"`
	LinkedAt time.Time `json:"linkedAt"`
	Currency string    `json:"currency"`
	Token    string    `json:"token,omitempty"`
}

// Token is an API token stored for one trading account.
type Token struct {
	Token    string `json:"token,omitempty"`
	Account  string `json:"account"`
	Currency string `json:"currency"`
}

// AccountBalance is the balance of one trading account at UpdatedAt.
type AccountBalance struct {
	LoginID   string    `json:"loginid"`
	Currency  string    `json:"currency"`
	Balance   float64   `json:"balance"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	IsDemo    bool      `json:"is_demo"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BalanceStats counts the accounts by kind.
type BalanceStats struct {
	Total int `json:"total"`
	Real  int `json:"real"`
	Demo  int `json:"demo"`
}

// User is a registered user with an optional linked trading account.
type User struct {
	ID                  int64            `json:"id"`
	UID                 string           `json:"uid"`
	Email               string           `json:"email"`
	Name                string           `json:"name"`
	LoginID             string           `json:"loginid"`
	Status              string           `json:"status"`
	Approved            bool             `json:"approved"`
	Deriv               DerivLink        `json:"deriv"`
	Tokens              []Token          `json:"tokens,omitempty"`
	AllAccountBalances  []AccountBalance `json:"allAccountBalances"`
	RealAccountBalances []AccountBalance `json:"realAccountBalances"`
	DemoAccountBalances []AccountBalance `json:"demoAccountBalances"`
	BalanceStats        BalanceStats     `json:"balanceStats"`
	LastBalanceUpdate   *time.Time       `json:"lastBalanceUpdate,omitempty"`
	LastLogin           *time.Time       `json:"lastLogin,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// WithoutSecrets returns a copy with the linked token and all token values removed.
// The token entries themselves are kept.
func (u User) WithoutSecrets() User {
	u.Deriv.Token = ""
	tokens := make([]Token, len(u.Tokens))
	for i, t := range u.Tokens {
		t.Token = ""
		tokens[i] = t
	}
	u.Tokens = tokens
	return u
}

// WithoutTokens is WithoutSecrets with the token list dropped entirely.
func (u User) WithoutTokens() User {
	u = u.WithoutSecrets()
	u.Tokens = nil
	return u
}

// SplitBalances partitions balances into real and demo accounts and counts them.
func SplitBalances(all []AccountBalance) (real, demo []AccountBalance, stats BalanceStats) {
	real = []AccountBalance{}
	demo = []AccountBalance{}
	for _, b := range all {
		if b.IsDemo {
			demo = append(demo, b)
		} else {
			real = append(real, b)
		}
	}
	stats = BalanceStats{Total: len(all), Real: len(real), Demo: len(demo)}
	return real, demo, stats
}
