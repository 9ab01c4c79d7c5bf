// Package identity manages the anonymous per-device user id attached to
// every session. The id is random and carries nothing about the child.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	fileName = "user_id"
	prefix   = "anon-"
)

// Path returns the identity file inside dir.
func Path(dir string) string {
	return filepath.Join(dir, fileName)
}

// Current returns the stored anonymous id, creating one on first use.
func Current(dir string) (string, error) {
	data, err := os.ReadFile(Path(dir)) //nolint:gosec // path under the data dir
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading identity: %w", err)
	}

	id := prefix + uuid.NewString()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating identity dir: %w", err)
	}
	if err := os.WriteFile(Path(dir), []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing identity: %w", err)
	}
	return id, nil
}

// Clear removes the stored id so the next Current call mints a new one.
func Clear(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing identity: %w", err)
	}
	return nil
}
