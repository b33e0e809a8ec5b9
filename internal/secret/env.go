package secret

import (
	"os"
	"strings"
)

// EnvStore implements SecretStore over process environment variables.
// Key "lime.token" maps to <prefix>LIME_TOKEN.
type EnvStore struct {
	prefix string
}

// NewEnvStore creates an EnvStore whose variable names start with prefix.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix}
}

func (e *EnvStore) name(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_")
	return e.prefix + strings.ToUpper(r.Replace(key))
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(e.name(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.name(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(e.name(key))
}
