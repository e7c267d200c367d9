package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tickpulse/internal/model"
)

const errNoLinkedAccount = "No Deriv account linked"

func (s *Server) profile(c *gin.Context) {
	user, ok := s.currentUser(c, http.StatusNotFound, "User not found")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user.WithoutSecrets())
}

func (s *Server) balances(c *gin.Context) {
	user, ok := s.currentUser(c, http.StatusBadRequest, errNoLinkedAccount)
	if !ok {
		return
	}
	if user.Deriv.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoLinkedAccount})
		return
	}

	ctx := c.Request.Context()
	all, err := s.fetchBalances(ctx, user.Deriv.Token)
	if err != nil {
		s.logger.Error("Server: balance fetch failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch balances"})
		return
	}

	now := time.Now().UTC()
	if err := s.deps.Repo.UpdateBalances(ctx, user.ID, all, now); err != nil {
		s.logger.Error("Server: balance save failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch balances"})
		return
	}

	realBalances, demoBalances, stats := model.SplitBalances(all)
	c.JSON(http.StatusOK, gin.H{
		"allAccountBalances":  all,
		"realAccountBalances": realBalances,
		"demoAccountBalances": demoBalances,
		"balanceStats":        stats,
	})
}

// fetchBalances lists every account behind token. The balance of each
// account comes from the "all" balance response when it is present there.
func (s *Server) fetchBalances(ctx context.Context, token string) ([]model.AccountBalance, error) {
	api := s.deps.NewDeriv()
	if err := api.Connect(ctx); err != nil {
		s.deps.Metrics.ObserveUpstream("connect", err)
		return nil, err
	}
	defer api.Disconnect()

	balance, err := api.GetAccountBalance(ctx, token)
	s.deps.Metrics.ObserveUpstream("balance", err)
	if err != nil {
		return nil, err
	}
	accounts, err := api.GetAccountList(ctx, token)
	s.deps.Metrics.ObserveUpstream("account_list", err)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	all := make([]model.AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		amount := acc.Balance
		if b, ok := balance.Accounts[acc.LoginID]; ok {
			amount = b.Balance
		}
		all = append(all, model.AccountBalance{
			LoginID:   acc.LoginID,
			Currency:  acc.Currency,
			Balance:   amount,
			Type:      acc.AccountType,
			Category:  acc.AccountCategory,
			IsDemo:    acc.IsVirtual == 1,
			UpdatedAt: now,
		})
	}
	return all, nil
}
