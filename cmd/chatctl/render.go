package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

func field(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func items(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if it, ok := r.(map[string]any); ok {
			out = append(out, it)
		}
	}
	return out
}

func clock(m map[string]any, key string) string {
	ms, ok := m[key].(float64)
	if !ok || ms == 0 {
		return "-"
	}
	return time.UnixMilli(int64(ms)).Local().Format("2006-01-02 15:04")
}

func table(w io.Writer, header string, rows func(tw *tabwriter.Writer)) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	_ = tw.Flush()
}

func printOK(w io.Writer, _ map[string]any) {
	fmt.Fprintln(w, "ok")
}

func printStatus(w io.Writer, m map[string]any) {
	fmt.Fprintf(w, "Session: %s\n", field(m, "session"))
	fmt.Fprintf(w, "Status:  %s\n", field(m, "status"))
	if user := field(m, "user"); user != "" {
		fmt.Fprintf(w, "User:    %s\n", user)
	}
	if focus, ok := m["focus"].(map[string]any); ok {
		fmt.Fprintf(w, "Focus:   %s %s\n", field(focus, "kind"), field(focus, "id"))
	}
	if uptime := field(m, "uptime_ms"); uptime != "" {
		fmt.Fprintf(w, "Uptime:  %sms\n", uptime)
	}
	if n := field(m, "indexed_messages"); n != "" {
		fmt.Fprintf(w, "Indexed: %s messages\n", n)
	}
}

func printLogin(w io.Writer, m map[string]any) {
	fmt.Fprintf(w, "Logged in as %s (%s)\n", field(m, "user"), field(m, "status"))
	if warn := field(m, "warning"); warn != "" {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func printContacts(w io.Writer, m map[string]any) {
	contacts := items(m, "contacts")
	if len(contacts) == 0 {
		fmt.Fprintln(w, "No contacts.")
		return
	}
	table(w, "USER\tNAME\tPRESENCE\tUNREAD\tLAST\tPREVIEW", func(tw *tabwriter.Writer) {
		for _, c := range contacts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				field(c, "username"), field(c, "display_name"), field(c, "presence"),
				field(c, "unread"), clock(c, "last_message_at"), field(c, "preview"))
		}
	})
}

func printGroups(w io.Writer, m map[string]any) {
	groups := items(m, "groups")
	if len(groups) == 0 {
		fmt.Fprintln(w, "No groups.")
		return
	}
	table(w, "ID\tNAME\tMEMBERS\tUNREAD", func(tw *tabwriter.Writer) {
		for _, g := range groups {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				field(g, "id"), field(g, "name"), field(g, "member_count"), field(g, "unread"))
		}
	})
}

func printGroup(w io.Writer, m map[string]any) {
	g, _ := m["group"].(map[string]any)
	fmt.Fprintf(w, "Created group %s (%s)\n", field(g, "name"), field(g, "id"))
}

func printMessages(w io.Writer, m map[string]any) {
	msgs := items(m, "messages")
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, msg := range msgs {
		fmt.Fprintln(w, messageLine(msg))
	}
}

func messageLine(msg map[string]any) string {
	sender := field(msg, "sender_name")
	if sender == "" {
		sender = field(msg, "sender_id")
	}
	body := field(msg, "content")
	if media, ok := msg["media"].(map[string]any); ok {
		body = fmt.Sprintf("[%s %s] %s", field(msg, "type"), field(media, "file_name"), body)
	}
	return fmt.Sprintf("%s  %-12s %s  (%s)", clock(msg, "sent_at"), sender, body, field(msg, "status"))
}

func printSent(w io.Writer, m map[string]any) {
	msg, _ := m["message"].(map[string]any)
	fmt.Fprintf(w, "queued %s\n", field(msg, "id"))
}

func printUsers(w io.Writer, m map[string]any) {
	users := items(m, "users")
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}
	table(w, "USER\tNAME\tPRESENCE", func(tw *tabwriter.Writer) {
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", field(u, "username"), field(u, "display_name"), field(u, "presence"))
		}
	})
}

func printResults(w io.Writer, m map[string]any) {
	results := items(m, "results")
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s  %s  %s: %s\n", clock(r, "sent_at"), field(r, "title"), field(r, "sender_name"), field(r, "snippet"))
	}
}

func printConversations(w io.Writer, m map[string]any) {
	convs := items(m, "conversations")
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	table(w, "KIND\tID\tTITLE\tLAST\tPREVIEW", func(tw *tabwriter.Writer) {
		for _, c := range convs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				field(c, "kind"), field(c, "id"), field(c, "title"), clock(c, "last_message_at"), field(c, "preview"))
		}
	})
}

func printEvent(w io.Writer, evt map[string]any) {
	payload, _ := evt["payload"].(map[string]any)
	detail := ""
	switch {
	case payload == nil:
	case payload["to"] != nil:
		detail = field(payload, "from") + " -> " + field(payload, "to")
	case payload["conversation"] != nil:
		conv, _ := payload["conversation"].(map[string]any)
		detail = field(conv, "kind") + ":" + field(conv, "id")
		if reason := field(payload, "reason"); reason != "" {
			detail += " " + reason
		}
		if e := field(payload, "error"); e != "" {
			detail += " " + e
		}
	case payload["count"] != nil:
		detail = field(payload, "count") + " entries"
	default:
		if focus, ok := payload["focus"].(map[string]any); ok {
			detail = field(focus, "kind") + ":" + field(focus, "id")
		} else {
			detail = "none"
		}
	}
	fmt.Fprintf(w, "%s  %-26s %s\n", field(evt, "occurred_at"), field(evt, "kind"), detail)
}

func printSessions(w io.Writer, m map[string]any) {
	sessions := items(m, "sessions")
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	for _, s := range sessions {
		state := "stopped"
		if s["running"] == true {
			state = "running, pid " + field(s, "pid")
		}
		fmt.Fprintf(w, "%-20s %s (%s)\n", field(s, "name"), field(s, "path"), state)
	}
}
