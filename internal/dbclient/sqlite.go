package dbclient

import (
	"mdsync/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driverName:  "sqlite",
	quote:       doubleQuote,
	placeholder: questionPlaceholder,
	onConflict:  excludedUpdate,
}

// sqlitePragmas are applied by modernc.org/sqlite on every new connection.
const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// newSQLiteConnector creates a connector for a SQLite staging file in WAL
// mode with a 5s busy timeout.
func newSQLiteConnector(conn *domain.StagingConnection) (*sqlConnector, error) {
	c, err := newSQLConnector(sqliteDialect, conn.Host+sqlitePragmas, conn)
	if err != nil {
		return nil, err
	}
	// SQLite only supports one writer
	c.db.SetMaxOpenConns(1)
	return c, nil
}
