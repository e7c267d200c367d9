package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const contextKey = "session"

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Manager binds sessions to gin requests through a cookie.
type Manager struct {
	store  Store
	cookie CookieConfig
	logger *slog.Logger
}

// NewManager creates a Manager on store.
func NewManager(store Store, cookie CookieConfig, logger *slog.Logger) *Manager {
	return &Manager{store: store, cookie: cookie, logger: logger}
}

// Start creates a session for s and sets the cookie on the response.
func (m *Manager) Start(c *gin.Context, s Session) error {
	id, err := m.store.Create(c.Request.Context(), s)
	if err != nil {
		return err
	}
	m.setCookie(c, id, int(m.cookie.TTL.Seconds()))
	return nil
}

// Destroy deletes the current session, if any, and clears the cookie.
func (m *Manager) Destroy(c *gin.Context) error {
	m.setCookie(c, "", -1)
	id, err := c.Cookie(m.cookie.Name)
	if err != nil {
		return nil
	}
	return m.store.Delete(c.Request.Context(), id)
}

// Require aborts with 401 unless the request carries a live session.
func (m *Manager) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := m.load(c)
		if errors.Is(err, ErrNoSession) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		if err != nil {
			m.logger.Error("Session: lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// FromContext returns the session stored by Require.
func FromContext(c *gin.Context) (Session, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}

func (m *Manager) load(c *gin.Context) (Session, error) {
	id, err := c.Cookie(m.cookie.Name)
	if err != nil || id == "" {
		return Session{}, ErrNoSession
	}
	return m.store.Get(c.Request.Context(), id)
}

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookie.Name, value, maxAge, "/", "", m.cookie.Secure, true)
}
