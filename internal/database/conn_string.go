package database

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/auditstream/internal/config"
)

// BuildConnString builds the archive's PostgreSQL URL from cfg.
//
// Credentials are escaped as URL userinfo and IPv6 hosts are bracketed.
// The archive identifies itself through application_name so its sessions
// can be told apart in pg_stat_activity.
func BuildConnString(cfg config.DBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}

	q := url.Values{}
	q.Set("sslmode", orDefault(cfg.SSLMode, config.DefaultDBSSLMode))
	q.Set("application_name", orDefault(cfg.AppName, config.DefaultDBAppName))
	if secs := timeoutSeconds(cfg.ConnectTimeout); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// timeoutSeconds rounds d up to whole seconds, the unit libpq expects.
func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
