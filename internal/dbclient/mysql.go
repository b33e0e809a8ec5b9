package dbclient

import (
	"fmt"
	"strings"

	"mdsync/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	driverName:  "mysql",
	quote:       func(ident string) string { return "`" + ident + "`" },
	placeholder: questionPlaceholder,
	onConflict: func(d dialect, cols []string, key string) string {
		var sets []string
		for _, c := range cols {
			if c == key {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", d.quote(c), d.quote(c)))
		}
		if len(sets) == 0 {
			// no-op update keeps INSERT from failing on the duplicate key
			sets = append(sets, fmt.Sprintf("%s = %s", d.quote(key), d.quote(key)))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
}

// buildMySQLDSN constructs a MySQL DSN from a StagingConnection.
func buildMySQLDSN(conn *domain.StagingConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?parseTime=true
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		conn.Username, password, conn.Host, port, conn.Database,
	)
	if conn.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}
