package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/session"
)

var (
	sessionFlag  string
	logLevelFlag string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Chat session daemon",
		Long:          "chatd keeps one chat session connected and serves it to chatctl over a Unix socket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := sessionName()
			if err != nil {
				return err
			}
			level := logLevelFlag
			if level == "" {
				global, err := config.LoadOrDefault(session.ConfigPath())
				if err != nil {
					return err
				}
				level = global.LogLevel
			}
			fx.New(daemon.Module(daemon.Params{SessionName: name, LogLevel: level})).Run()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	root.Flags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (overrides config log_level)")
	root.AddCommand(initCmd())
	return root
}

func initCmd() *cobra.Command {
	var (
		cfg      config.Session
		register bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the session config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := sessionName()
			if err != nil {
				return err
			}
			if register {
				if err := registerAccount(cmd.Context(), &cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := session.EnsureDir(name); err != nil {
				return err
			}
			path := session.SessionConfigPath(name)
			if err := config.SaveSession(path, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Server.APIURL, "api-url", "", "REST API base URL")
	f.StringVar(&cfg.Server.WSURL, "ws-url", "", "STOMP over WebSocket endpoint")
	f.StringVar(&cfg.Account.Username, "user", "", "account username")
	f.StringVar(&cfg.Account.FullName, "full-name", "", "display name")
	f.StringVar(&cfg.Account.Token, "token", "", "bearer token")
	f.StringVar(&cfg.Account.Password, "password", "", "password, used when no token is set")
	f.StringVar(&cfg.Transport.ReconnectDelay, "reconnect-delay", "", "delay between reconnect attempts")
	f.StringVar(&cfg.Transport.Heartbeat, "heartbeat", "", "STOMP heartbeat interval")
	f.StringVar(&cfg.Sync.RefreshDelay, "refresh-delay", "", "debounce for directory refreshes")
	f.BoolVar(&register, "register", false, "create the account on the server and store its token")
	return cmd
}

// registerAccount creates the account and swaps the password for the
// returned token.
func registerAccount(ctx context.Context, cfg *config.Session) error {
	acct := &cfg.Account
	if cfg.Server.APIURL == "" || acct.Username == "" || acct.Password == "" {
		return errors.New("--register needs --api-url, --user and --password")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	creds, err := backend.New(cfg.Server.APIURL).Register(ctx, acct.Username, acct.FullName, acct.Password)
	if err != nil {
		return fmt.Errorf("register %s: %w", acct.Username, err)
	}
	if creds.Username != "" {
		acct.Username = creds.Username
	}
	if creds.FullName != "" {
		acct.FullName = creds.FullName
	}
	acct.Token = creds.Token
	acct.Password = ""
	return nil
}

func sessionName() (string, error) {
	return session.Resolve(sessionFlag)
}
