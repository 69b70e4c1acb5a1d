package storage

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SQLiteConnString builds a SQLite connection string with the standard
// pragmas applied at connection time: busy_timeout (prevents "database is
// locked" under concurrent access), foreign_keys, and a sane time format.
// Honors SQLEW_LOCK_TIMEOUT for the busy timeout (default 10s, matching
// the production bound; dev deployments may lower it). If readOnly
// is true the connection opens in read-only mode. If path is already a
// file: URI, pragmas are appended only where absent.
func SQLiteConnString(path string, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := 10 * time.Second
	if v := strings.TrimSpace(os.Getenv("SQLEW_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if path == ":memory:" {
		return fmt.Sprintf("file::memory:?cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", busyMs)
	}

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if readOnly && !strings.Contains(conn, "mode=") {
			conn += sep + "mode=ro"
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=foreign_keys") {
			conn += sep + "_pragma=foreign_keys(ON)"
		}
		return conn
	}

	if readOnly {
		return fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", path, busyMs)
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", path, busyMs)
}
