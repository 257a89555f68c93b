package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/matheus3301/chatsync/internal/config"
)

const DefaultSessionName = "main"

// ErrInvalidName is wrapped by every name validation failure.
var ErrInvalidName = errors.New("invalid session name")

// Names double as directory names, so they start with a letter or digit.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: want 1-64 of a-z 0-9 _ -, starting with a letter or digit", ErrInvalidName, name)
	}
	return nil
}

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
// The chosen name is validated; the error names where it came from.
func Resolve(flagOverride string) (string, error) {
	name, source := DefaultSessionName, "default"
	if flagOverride != "" {
		name, source = flagOverride, "--session"
	} else {
		cfg, err := config.LoadOrDefault(ConfigPath())
		if err != nil {
			return "", err
		}
		if cfg.DefaultSession != "" {
			name, source = cfg.DefaultSession, ConfigPath()
		}
	}
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("%s: %w", source, err)
	}
	return name, nil
}

// List returns the sessions that have a session config, sorted by name.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(SessionConfigPath(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
