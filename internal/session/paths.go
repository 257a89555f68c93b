package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the chatsync home directory.
const HomeEnv = "CHATSYNC_HOME"

// File names inside a session directory.
const (
	socketFile  = "daemon.sock"
	lockFile    = "LOCK"
	configFile  = "session.toml"
	indexFile   = "index.db"
	logsDir     = "logs"
	daemonLog   = "chatd.log"
	globalFile  = "config.toml"
	sessionsDir = "sessions"
)

// BaseDir returns $CHATSYNC_HOME, falling back to ~/.chatsync.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), globalFile)
}

// Dir returns the directory of session name.
func Dir(name string) string {
	return filepath.Join(BaseDir(), sessionsDir, name)
}

func file(name string, elem ...string) string {
	return filepath.Join(append([]string{Dir(name)}, elem...)...)
}

// SocketPath returns the control socket of a session.
func SocketPath(name string) string { return file(name, socketFile) }

// LockPath returns the lock file guarding a session.
func LockPath(name string) string { return file(name, lockFile) }

// SessionConfigPath returns the session.toml path.
func SessionConfigPath(name string) string { return file(name, configFile) }

// IndexPath returns the search index database, recreated every run.
func IndexPath(name string) string { return file(name, indexFile) }

// LogDir returns the log directory of a session.
func LogDir(name string) string { return file(name, logsDir) }

// LogPath returns the daemon log file.
func LogPath(name string) string { return file(name, logsDir, daemonLog) }

// EnsureDir creates the session directory and its log directory, both 0700.
func EnsureDir(name string) error {
	return os.MkdirAll(LogDir(name), 0700)
}
