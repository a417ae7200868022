package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService names the entry group in the OS keychain:
	// Keychain Access on macOS, Credential Manager on Windows,
	// Secret Service on Linux.
	keyringService = "DevScope"

	keyringTokenItem = "github-token"
)

// Keyring stores the GitHub token in the OS keychain so it never sits
// in a plaintext file.
type Keyring struct {
	logger *slog.Logger
}

// NewKeyring returns a keychain-backed credential store.
func NewKeyring() *Keyring {
	return &Keyring{logger: slog.Default().With("component", "keyring")}
}

// GitHubToken reads the stored token. An absent entry is not an error.
func (k *Keyring) GitHubToken() (string, error) {
	token, err := keyring.Get(keyringService, keyringTokenItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read from OS keychain: %w", err)
	}

	k.logger.Debug("github token retrieved from keychain")
	return token, nil
}

// SetGitHubToken stores the token.
func (k *Keyring) SetGitHubToken(token string) error {
	if token == "" {
		return fmt.Errorf("github token cannot be empty")
	}

	if err := keyring.Set(keyringService, keyringTokenItem, token); err != nil {
		return fmt.Errorf("save to OS keychain: %w", err)
	}

	k.logger.Info("github token saved to keychain", "service", keyringService)
	return nil
}

// DeleteGitHubToken removes the token. Deleting an absent entry is fine.
func (k *Keyring) DeleteGitHubToken() error {
	err := keyring.Delete(keyringService, keyringTokenItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete from OS keychain: %w", err)
	}

	k.logger.Info("github token deleted from keychain")
	return nil
}

// IsAvailable probes the keychain. Headless systems without a secret
// service report false and callers fall back to file or env storage.
func (k *Keyring) IsAvailable() bool {
	_, err := keyring.Get(keyringService, "availability-probe")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		k.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// MaskToken renders a token safe for display, keeping the prefix that
// identifies the token type and the last four characters.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", token[:7], token[len(token)-4:])
}
