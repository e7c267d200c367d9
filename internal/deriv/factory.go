package deriv

import (
	"log/slog"

	"tickpulse/internal/config"
)

// NewFactory returns a constructor for fresh, unconnected clients built from cfg.
// Every stream and every request-scoped exchange gets its own connection.
func NewFactory(cfg config.DerivConfig, logger *slog.Logger) func() *Client {
	clientCfg := ClientConfig{
		URL:              cfg.Endpoint(),
		HandshakeTimeout: cfg.ConnectTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		RequestTimeout:   cfg.RequestTimeout,
	}
	return func() *Client {
		return NewClient(clientCfg, logger)
	}
}
