package config

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "armscan"
	keyringUser    = "github-token"
)

// StoreToken saves the forge token in the OS keyring.
func StoreToken(token string) error {
	return keyring.Set(keyringService, keyringUser, token)
}

// DeleteToken removes the forge token from the OS keyring.
func DeleteToken() error {
	return keyring.Delete(keyringService, keyringUser)
}

// tokenFromKeyring reads the forge token from the OS keyring. A missing entry
// or unavailable keyring yields an empty string.
func tokenFromKeyring() string {
	token, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if err != keyring.ErrNotFound {
			slog.Debug("keyring lookup failed", "error", err)
		}
		return ""
	}
	return token
}
