package domain

// DatabaseDriver represents the type of staging database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// StagingConnection holds the metadata for connecting to the staging store.
// Password may be a literal or a "secret:<key>" reference resolved through the SecretStore.
type StagingConnection struct {
	Driver    DatabaseDriver    `yaml:"driver" json:"driver"`
	Host      string            `yaml:"host" json:"host"`         // hostname, mongodb URI or file path (sqlite)
	Port      int               `yaml:"port" json:"port"`         // 0 for sqlite
	Database  string            `yaml:"database" json:"database"` // db name or empty for sqlite
	Username  string            `yaml:"username" json:"username"`
	Password  string            `yaml:"password" json:"-"`
	SSLMode   string            `yaml:"ssl_mode" json:"sslMode"`
	Extra     map[string]string `yaml:"extra" json:"extra,omitempty"` // driver-specific options
	Table     string            `yaml:"table" json:"table"`           // trips table / collection
	KeyColumn string            `yaml:"key" json:"key"`               // natural key for upserts
}
