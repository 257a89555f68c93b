package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodStatus, nil, printStatus)
		},
	}
}

func loginCmd() *cobra.Command {
	var password, token, fullName string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in, replacing the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"username":  args[0],
				"password":  password,
				"token":     token,
				"full_name": fullName,
			}
			return call(cmd, api.MethodLogin, req, printLogin)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&token, "token", "", "bearer token; skips the password login")
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Announce offline and drop the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodLogout, nil, printStatus)
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodContacts, nil, printContacts)
		},
	}
}

func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodGroups, nil, printGroups)
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <peer>",
		Short: "Focus a direct conversation and load its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, api.MethodOpen, map[string]any{"peer": args[0]}, printMessages)
		},
	}
}

func openGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open-group <group-id>",
		Short: "Focus a group conversation and load its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, api.MethodOpenGroup, map[string]any{"group_id": args[0]}, printMessages)
		},
	}
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Clear the focused conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodClose, nil, printOK)
		},
	}
}

// target adds the --group flag shared by commands that take a peer or a
// group, and returns the request fields for it.
func target(cmd *cobra.Command) func(args []string) (map[string]any, []string, bool) {
	var group string
	cmd.Flags().StringVar(&group, "group", "", "group id instead of a peer")
	return func(args []string) (map[string]any, []string, bool) {
		if group != "" {
			return map[string]any{"group_id": group}, args, true
		}
		if len(args) == 0 {
			return nil, nil, false
		}
		return map[string]any{"peer": args[0]}, args[1:], true
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <peer> | --group <id>",
		Short: "Show the loaded messages of a conversation",
		Args:  cobra.MaximumNArgs(1),
	}
	resolve := target(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		req, _, ok := resolve(args)
		if !ok {
			return cmd.Usage()
		}
		return call(cmd, api.MethodHistory, req, printMessages)
	}
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <text>...",
		Short: "Send a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"peer": args[0], "text": strings.Join(args[1:], " ")}
			return call(cmd, api.MethodSend, req, printSent)
		},
	}
}

func sendGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-group <group-id> <text>...",
		Short: "Send a group message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"group_id": args[0], "text": strings.Join(args[1:], " ")}
			return call(cmd, api.MethodSendGroup, req, printSent)
		},
	}
}

func sendMediaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-media <peer> | --group <id> <file> [caption]...",
		Short: "Upload a file and send it",
		Args:  cobra.MinimumNArgs(1),
	}
	resolve := target(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		req, rest, ok := resolve(args)
		if !ok || len(rest) == 0 {
			return cmd.Usage()
		}
		path, err := filepath.Abs(rest[0])
		if err != nil {
			return err
		}
		req["path"] = path
		req["caption"] = strings.Join(rest[1:], " ")
		return call(cmd, api.MethodSendMedia, req, printSent)
	}
	return cmd
}

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <group-id>",
		Short: "Leave a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, api.MethodLeaveGroup, map[string]any{"group_id": args[0]}, printOK)
		},
	}
}

func createGroupCmd() *cobra.Command {
	var description string
	var members []string
	cmd := &cobra.Command{
		Use:   "create-group <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]any, 0, len(members))
			for _, m := range members {
				ids = append(ids, m)
			}
			req := map[string]any{"name": args[0], "description": description, "member_ids": ids}
			return call(cmd, api.MethodCreateGroup, req, printGroup)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "group description")
	cmd.Flags().StringSliceVar(&members, "member", nil, "member username (repeatable)")
	return cmd
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users <query>",
		Short: "Search the user directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, api.MethodSearchUsers, map[string]any{"query": args[0]}, printUsers)
		},
	}
}

func searchCmd() *cobra.Command {
	var peer, group string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search messages seen by this session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"query": strings.Join(args, " "), "limit": limit}
			if peer != "" {
				req["peer"] = peer
			}
			if group != "" {
				req["group_id"] = group
			}
			return call(cmd, api.MethodSearchMessages, req, printResults)
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "only search this direct conversation")
	cmd.Flags().StringVar(&group, "group", "", "only search this group")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List conversations by latest activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, api.MethodRecent, map[string]any{"limit": limit}, printConversations)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum conversations")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]",
		Short: "Stream daemon events until interrupted",
		Long:  "Stream daemon events. namespace filters by kind prefix, e.g. \"conversation.\" or \"session.\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ns string
			if len(args) == 1 {
				ns = args[0]
			}
			return watch(cmd, ns)
		},
	}
}

// sessionsCmd reads the local session directories; it needs no daemon.
func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List configured sessions and whether their daemon runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := session.List()
			if err != nil {
				return err
			}
			rows := make([]any, 0, len(names))
			for _, name := range names {
				pid, running := lock.Holder(session.LockPath(name))
				row := map[string]any{"name": name, "path": session.Dir(name), "running": running}
				if running {
					row["pid"] = pid
				}
				rows = append(rows, row)
			}
			out := cmd.OutOrStdout()
			if jsonFlag {
				msg, err := structpb.NewStruct(map[string]any{"sessions": rows})
				if err != nil {
					return err
				}
				return printJSON(out, msg)
			}
			printSessions(out, map[string]any{"sessions": rows})
			return nil
		},
	}
}
