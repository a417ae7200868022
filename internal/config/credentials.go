package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/devscope-hq/devscope/internal/errs"
)

// IsInteractive reports whether stdin is attached to a terminal.
// Prompts are suppressed for piped input and CI.
func IsInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// ReadSecret reads a line from stdin without echo when attached to a
// terminal, falling back to a plain line read for piped input.
func ReadSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// StoreToken persists the token: OS keychain when available, otherwise
// inline in the YAML file at path (patched in place so other options
// survive). It returns where the token landed for user feedback.
func StoreToken(token, path string) (string, error) {
	if token == "" {
		return "", errs.ConfigError("github token cannot be empty")
	}

	kr := NewKeyring()
	if kr.IsAvailable() {
		if err := kr.SetGitHubToken(token); err != nil {
			return "", err
		}
		return "keychain", nil
	}

	if err := patchConfigFile(path, "github_token", token); err != nil {
		return "", err
	}
	return path, nil
}

// patchConfigFile sets one key in the YAML file at path, creating the
// file when absent.
func patchConfigFile(path, key, value string) error {
	options := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &options); err != nil {
			return errs.ConfigErrorf("parse existing config %s: %v", path, err)
		}
	}
	options[key] = value

	data, err := yaml.Marshal(options)
	if err != nil {
		return errs.ConfigErrorf("marshal config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errs.FileSystemError(err, "create config directory")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errs.FileSystemError(err, "write config file")
	}
	return nil
}
