package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// UnknownKeysError reports keys in a file that no field reads, usually a
// typo that would otherwise be silently ignored.
type UnknownKeysError struct {
	Path string
	Keys []toml.Key
}

func (e *UnknownKeysError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("%s: unknown keys: %s", e.Path, strings.Join(keys, ", "))
}
