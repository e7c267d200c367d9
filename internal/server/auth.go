package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tickpulse/internal/database"
	"tickpulse/internal/model"
	"tickpulse/internal/session"
)

func (s *Server) derivLogin(c *gin.Context) {
	q := url.Values{}
	q.Set("app_id", s.cfg.Deriv.AppID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", s.cfg.Deriv.CallbackURL)
	c.Redirect(http.StatusFound, s.cfg.Deriv.OAuthURL+"?"+q.Encode())
}

func (s *Server) derivCallback(c *gin.Context) {
	front := s.cfg.Server.FrontendURL

	token := c.Query("code")
	if token == "" {
		token = c.Query("token1")
	}
	if token == "" {
		c.Redirect(http.StatusFound, front+"?error=no_code")
		return
	}

	user, err := s.linkAccount(c.Request.Context(), token)
	if err != nil {
		s.logger.Error("Server: account link failed", "error", err)
		c.Redirect(http.StatusFound, front+"?error=auth_failed")
		return
	}

	if err := s.deps.Sessions.Start(c, session.Session{UserID: user.ID, UID: user.UID}); err != nil {
		s.logger.Error("Server: session start failed", "user_id", user.ID, "error", err)
		c.Redirect(http.StatusFound, front+"?error=auth_failed")
		return
	}

	s.logger.Info("Server: user logged in", "user_id", user.ID, "loginid", user.Deriv.LoginID)
	c.Redirect(http.StatusFound, front+"/dashboard")
}

// linkAccount authorizes token upstream and creates or refreshes the user
// owning the authorized email.
func (s *Server) linkAccount(ctx context.Context, token string) (model.User, error) {
	api := s.deps.NewDeriv()
	if err := api.Connect(ctx); err != nil {
		s.deps.Metrics.ObserveUpstream("connect", err)
		return model.User{}, err
	}
	defer api.Disconnect()

	auth, err := api.Authorize(ctx, token)
	s.deps.Metrics.ObserveUpstream("authorize", err)
	if err != nil {
		return model.User{}, err
	}

	now := time.Now().UTC()
	link := model.DerivLink{
		LoginID:  auth.LoginID,
		LinkedAt: now,
		Currency: auth.Currency,
		Token:    token,
	}

	user, err := s.deps.Repo.FindUserByEmail(ctx, auth.Email)
	switch {
	case errors.Is(err, database.ErrNotFound):
		user = model.User{
			UID:     fmt.Sprintf("user_%s_%d", auth.LoginID, now.UnixMilli()),
			Email:   auth.Email,
			Name:    displayName(auth.Email),
			LoginID: auth.LoginID,
			Tokens:  []model.Token{{Token: token, Account: auth.LoginID, Currency: auth.Currency}},
		}
	case err != nil:
		return model.User{}, err
	}

	user.Deriv = link
	user.LastLogin = &now
	if err := s.deps.Repo.SaveUser(ctx, &user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// displayName is the local part of email.
func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func (s *Server) me(c *gin.Context) {
	user, ok := s.currentUser(c, http.StatusNotFound, "User not found")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user.WithoutTokens())
}

func (s *Server) logout(c *gin.Context) {
	if err := s.deps.Sessions.Destroy(c); err != nil {
		s.logger.Error("Server: session destroy failed", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// currentUser loads the user of the request session, writing the error
// response itself when it cannot. A missing user is answered with
// notFoundStatus and notFoundMsg.
func (s *Server) currentUser(c *gin.Context, notFoundStatus int, notFoundMsg string) (model.User, bool) {
	sess, _ := session.FromContext(c)
	user, err := s.deps.Repo.FindUserByID(c.Request.Context(), sess.UserID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(notFoundStatus, gin.H{"error": notFoundMsg})
		return model.User{}, false
	}
	if err != nil {
		s.logger.Error("Server: user lookup failed", "user_id", sess.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return model.User{}, false
	}
	return user, true
}
