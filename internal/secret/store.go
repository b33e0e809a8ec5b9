package secret

import (
	"fmt"
	"strings"
)

// SecretStore provides a pluggable interface for storing sensitive data
// such as provider tokens and staging passwords. Config values written as
// "secret:<key>" are looked up here instead of being kept in the YAML file.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Prefix marks a config value as a reference into the SecretStore.
const Prefix = "secret:"

// Resolve returns value unchanged unless it is a "secret:<key>" reference,
// in which case the referenced secret is returned. A missing secret is an error.
func Resolve(store SecretStore, value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	key := strings.TrimPrefix(value, Prefix)
	if store == nil {
		return "", fmt.Errorf("secret %q: no secret store configured", key)
	}
	v, err := store.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	if len(v) == 0 {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return string(v), nil
}

// New returns the store named by kind: "keychain" or "env" (default).
func New(kind string) (SecretStore, error) {
	switch kind {
	case "", "env":
		return NewEnvStore("MDSYNC_SECRET_"), nil
	case "keychain":
		return NewKeychainStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret store %q", kind)
	}
}
