package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/session"
)

var (
	sessionFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Control a running chatd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	pf.BoolVar(&jsonFlag, "json", false, "output in JSON format")
	pf.DurationVar(&timeoutFlag, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		loginCmd(),
		logoutCmd(),
		contactsCmd(),
		groupsCmd(),
		openCmd(),
		openGroupCmd(),
		closeCmd(),
		historyCmd(),
		sendCmd(),
		sendGroupCmd(),
		sendMediaCmd(),
		leaveCmd(),
		createGroupCmd(),
		usersCmd(),
		searchCmd(),
		recentCmd(),
		watchCmd(),
		sessionsCmd(),
	)
	return root
}

func connect() (*client.Client, string, error) {
	name, err := session.Resolve(sessionFlag)
	if err != nil {
		return nil, "", err
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, name, nil
}

// call runs one unary method and prints the reply with render, or as JSON.
func call(cmd *cobra.Command, method string, args map[string]any, render func(io.Writer, map[string]any)) error {
	c, name, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	resp, err := c.Call(ctx, method, args)
	if err != nil {
		return describe(name, err)
	}
	out := cmd.OutOrStdout()
	if jsonFlag {
		return printJSON(out, resp)
	}
	render(out, resp.AsMap())
	return nil
}

func watch(cmd *cobra.Command, namespace string) error {
	c, name, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stream, err := c.Watch(ctx, namespace)
	if err != nil {
		return describe(name, err)
	}
	out := cmd.OutOrStdout()
	for {
		evt, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || grpcstatus.Code(err) == codes.Canceled {
				return nil
			}
			return describe(name, err)
		}
		if jsonFlag {
			data, err := protojson.Marshal(evt)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			continue
		}
		printEvent(out, evt.AsMap())
	}
}

func describe(name string, err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("session %q unavailable: %s", name, st.Message())
	case codes.FailedPrecondition, codes.InvalidArgument, codes.NotFound:
		return errors.New(st.Message())
	}
	return fmt.Errorf("%s: %s", st.Code(), st.Message())
}

func printJSON(w io.Writer, msg *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
