package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// keychainService groups every mdsync credential under one keychain service;
// the config key (e.g. "lime.token") is the account name.
const keychainService = "mdsync"

// exit status of `security` when the item does not exist
const errSecItemNotFound = 44

// securityRunner runs the macOS `security` tool and returns its stdout.
type securityRunner func(args ...string) ([]byte, error)

func runSecurity(args ...string) ([]byte, error) {
	cmd := exec.Command("security", args...)
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%s: %w", strings.TrimSpace(string(exitErr.Stderr)), err)
	}
	return out, err
}

// KeychainStore keeps provider tokens and staging passwords in the macOS
// login keychain.
type KeychainStore struct {
	service string
	run     securityRunner
}

// NewKeychainStore creates a KeychainStore for the mdsync service.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService, run: runSecurity}
}

func (k *KeychainStore) Set(key string, value []byte) error {
	if _, err := k.run("add-generic-password", "-U", "-a", key, "-s", k.service, "-w", string(value)); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Get returns nil when the keychain has no entry for key. Any other failure
// (locked keychain, missing tool) is returned so Resolve does not report it
// as a missing secret.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.run("find-generic-password", "-a", key, "-s", k.service, "-w")
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

func (k *KeychainStore) Delete(key string) error {
	_, err := k.run("delete-generic-password", "-a", key, "-s", k.service)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound
}
