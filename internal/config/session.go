package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 4 * time.Second
	DefaultRefreshDelay   = 500 * time.Millisecond
)

// Session is the per-session sessions/<name>/session.toml.
type Session struct {
	Server    Server    `toml:"server"`
	Account   Account   `toml:"account"`
	Transport Transport `toml:"transport"`
	Sync      Sync      `toml:"sync"`
}

type Server struct {
	APIURL string `toml:"api_url"`
	WSURL  string `toml:"ws_url"`
}

// Account holds the credentials. A token wins over a password; a password
// alone makes the daemon log in and store the issued token.
type Account struct {
	Username string `toml:"username"`
	FullName string `toml:"full_name,omitempty"`
	Token    string `toml:"token,omitempty"`
	Password string `toml:"password,omitempty"`
}

type Transport struct {
	ReconnectDelay string `toml:"reconnect_delay,omitempty"`
	Heartbeat      string `toml:"heartbeat,omitempty"`
}

type Sync struct {
	RefreshDelay string `toml:"refresh_delay,omitempty"`
}

// LoadSession reads and validates a session file.
func LoadSession(path string) (*Session, error) {
	var s Session
	if err := read(path, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// SaveSession writes a session file with 0600 permissions.
func SaveSession(path string, s *Session) error {
	return write(path, s)
}

// Validate checks the fields the daemon cannot start without.
func (s *Session) Validate() error {
	var errs []error
	if s.Server.APIURL == "" {
		errs = append(errs, errors.New("server.api_url is required"))
	} else if _, err := url.ParseRequestURI(s.Server.APIURL); err != nil {
		errs = append(errs, fmt.Errorf("server.api_url: %w", err))
	}
	if s.Server.WSURL == "" {
		errs = append(errs, errors.New("server.ws_url is required"))
	}
	if s.Account.Username == "" {
		errs = append(errs, errors.New("account.username is required"))
	}
	if s.Account.Token == "" && s.Account.Password == "" {
		errs = append(errs, errors.New("account needs a token or a password"))
	}
	for name, v := range map[string]string{
		"transport.reconnect_delay": s.Transport.ReconnectDelay,
		"transport.heartbeat":       s.Transport.Heartbeat,
		"sync.refresh_delay":        s.Sync.RefreshDelay,
	} {
		if _, err := duration(v, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) ReconnectDelay() time.Duration {
	d, _ := duration(s.Transport.ReconnectDelay, DefaultReconnectDelay)
	return d
}

func (s *Session) Heartbeat() time.Duration {
	d, _ := duration(s.Transport.Heartbeat, DefaultHeartbeat)
	return d
}

func (s *Session) RefreshDelay() time.Duration {
	d, _ := duration(s.Sync.RefreshDelay, DefaultRefreshDelay)
	return d
}

func duration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, err
	}
	if d <= 0 {
		return def, fmt.Errorf("duration must be positive, got %s", v)
	}
	return d, nil
}
