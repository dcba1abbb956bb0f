package tenantpool

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
)

// DialerConfig holds the fixed per-pool settings applied to every tenant database.
type DialerConfig struct {
	MaxConns        int32
	ConnectTimeout  time.Duration
	MaxConnIdleTime time.Duration
	SSLMode         string
	ApplicationName string
}

// ConnString renders the pgx connection URL for target. Read-only credentials
// open sessions with default_transaction_read_only so the database itself refuses writes.
func ConnString(target Target, cfg DialerConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(target.Credential.User, target.Credential.Password),
		Host:   net.JoinHostPort(target.Info.Host, strconv.Itoa(target.Info.Port)),
		Path:   "/" + target.Info.Database,
	}

	q := url.Values{}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q.Set("sslmode", sslMode)
	if cfg.ConnectTimeout > 0 {
		secs := int(cfg.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	if cfg.ApplicationName != "" {
		q.Set("application_name", cfg.ApplicationName)
	}
	if target.Credential.ReadOnly {
		q.Set("default_transaction_read_only", "on")
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// NewPgxDialer returns a Dialer backed by persistence.NewPool. Pools are pinged
// eagerly so connection failures surface on first use.
func NewPgxDialer(cfg DialerConfig) Dialer {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	return func(ctx context.Context, target Target) (Pool, error) {
		return persistence.NewPool(ctx, persistence.PoolConfig{
			ConnString:      ConnString(target, cfg),
			MaxConns:        cfg.MaxConns,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
			PingTimeout:     cfg.ConnectTimeout,
		})
	}
}
