// Package credential supplies the password used to log in to the IMAP
// server.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nhle/scanrelay/internal/model"
)

// ErrCredentialUnavailable is wrapped by every error a Source returns
// when it cannot produce a password.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// Source yields the password for one authentication attempt. Fetch may
// block, e.g. while a password manager waits for a passphrase.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// Plain returns a password given in clear text. It exists for local
// testing; anything that reads the config file can read the password.
type Plain struct {
	Password string
}

// Fetch returns the configured password.
func (p Plain) Fetch(_ context.Context) (string, error) {
	if p.Password == "" {
		return "", fmt.Errorf("%w: no password configured", ErrCredentialUnavailable)
	}
	return p.Password, nil
}

// PassStore reads a password from the pass password store
// (https://www.passwordstore.org/).
type PassStore struct {
	Entry string

	// Command overrides the executable, "pass" by default.
	Command string
}

// Fetch runs the password store for Entry and returns its first line.
func (p PassStore) Fetch(ctx context.Context) (string, error) {
	name := p.Command
	if name == "" {
		name = "pass"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, p.Entry)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf(
			"%w: %s %s: %v: %s",
			ErrCredentialUnavailable, name, p.Entry, err,
			strings.TrimSpace(stderr.String()),
		)
	}

	password, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	if password == "" {
		return "", fmt.Errorf(
			"%w: %s %s printed no password", ErrCredentialUnavailable, name, p.Entry,
		)
	}
	return password, nil
}

// FromConfig builds the Source selected by cfg.Source.
func FromConfig(cfg model.CredentialConfig) (Source, error) {
	switch cfg.Source {
	case model.CredentialPlain:
		return Plain{Password: cfg.Password}, nil
	case model.CredentialPass:
		if cfg.PassEntry == "" {
			return nil, fmt.Errorf("credential source %q needs pass_entry", cfg.Source)
		}
		return PassStore{Entry: cfg.PassEntry, Command: cfg.PassCommand}, nil
	case model.CredentialKeyring:
		return Keyring{Key: cfg.KeyringKey}, nil
	default:
		return nil, fmt.Errorf("unknown credential source %q", cfg.Source)
	}
}
