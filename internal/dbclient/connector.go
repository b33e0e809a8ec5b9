package dbclient

import (
	"context"
	"fmt"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
)

// Connector is the staging store: checkpoint reads plus idempotent loads.
type Connector interface {
	etl.Checkpointer
	etl.Destination

	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Close closes the connection.
	Close() error
}

// NewConnector creates a Connector for the staging connection.
// The password must be resolved by the caller (see secret.Resolve).
func NewConnector(conn *domain.StagingConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector(mysqlDialect, buildMySQLDSN(conn, password), conn)
	case domain.DatabaseDriverPostgres:
		return newSQLConnector(postgresDialect, buildPostgresDSN(conn, password), conn)
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
