package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/session"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/tui/client"
	"github.com/ozmetal/inbox/internal/window"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client.New(session.SocketPath(sessionName))
	if !c.Healthz() {
		fmt.Fprintf(os.Stderr, "error: no daemon running for session %q (start inboxd first)\n", sessionName)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "messages":
		requireArgs(args, 2, "inboxctl messages <conversation-id>")
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "send":
		requireArgs(args, 3, "inboxctl send <conversation-id> <text>")
		cmdSend(c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "template":
		requireArgs(args, 3, "inboxctl template <conversation-id> <name>")
		cmdTemplate(c, args[1], args[2], *jsonFlag)
	case "resend":
		requireArgs(args, 2, "inboxctl resend <client-id>")
		cmdResend(c, args[1], *jsonFlag)
	case "search":
		requireArgs(args, 2, "inboxctl search <query>")
		cmdSearch(c, strings.Join(args[1:], " "), *jsonFlag)
	case "read":
		requireArgs(args, 2, "inboxctl read <conversation-id>")
		must(c.MarkRead(ctx, args[1]))
	case "close":
		requireArgs(args, 2, "inboxctl close <conversation-id>")
		must(c.SetStatus(args[1], store.ConversationClosed))
	case "reopen":
		requireArgs(args, 2, "inboxctl reopen <conversation-id>")
		must(c.SetStatus(args[1], store.ConversationOpen))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: inboxctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  conversations              List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>              Show a conversation's messages")
	fmt.Fprintln(os.Stderr, "  send <id> <text>           Send a text message")
	fmt.Fprintln(os.Stderr, "  template <id> <name>       Send a template message")
	fmt.Fprintln(os.Stderr, "  resend <client-id>         Resend a failed message")
	fmt.Fprintln(os.Stderr, "  search <query>             Full-text message search")
	fmt.Fprintln(os.Stderr, "  read <id>                  Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  close <id>                 Close a conversation")
	fmt.Fprintln(os.Stderr, "  reopen <id>                Reopen a conversation")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func cmdConversations(ctx context.Context, c *client.Client, jsonOut bool) {
	convs, err := c.Conversations(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		win := "closed"
		if st := window.Evaluate(conv.WindowExpiry(), time.Now()); st.Open {
			win = "open " + st.Remaining.Round(time.Minute).String()
		}
		fmt.Printf("%-16s %-24s unread=%-3d window=%-12s %s\n",
			conv.ID, conv.DisplayName, conv.UnreadCount, win, conv.LastMessagePreview)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, conversationID string, jsonOut bool) {
	msgs, err := c.Messages(ctx, conversationID, 50)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		dir := "<-"
		if m.Direction == store.DirectionOutbound {
			dir = "->"
		}
		fmt.Printf("%s %s [%s] %s\n",
			time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04"), dir, m.Status, m.Body)
	}
}

func cmdSend(c *client.Client, conversationID, text string, jsonOut bool) {
	resp, err := c.Send(conversationID, content.NewText(text), "")
	if err != nil {
		if client.IsWindowClosed(err) {
			fmt.Fprintln(os.Stderr, "error: service window closed; use `inboxctl template` instead")
			os.Exit(2)
		}
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("sent %s\n", resp.ExternalID)
}

func cmdTemplate(c *client.Client, conversationID, name string, jsonOut bool) {
	resp, err := c.Send(conversationID, content.NewTemplate(name, "tr"), "")
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("sent %s\n", resp.ExternalID)
}

func cmdResend(c *client.Client, clientID string, jsonOut bool) {
	resp, err := c.Resend(clientID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("resent as %s\n", resp.ExternalID)
}

func cmdSearch(c *client.Client, query string, jsonOut bool) {
	results, err := c.Search(query, "")
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		fmt.Printf("%-16s %s  %s\n", r.Message.ConversationID,
			time.UnixMilli(r.Message.Timestamp).Format("2006-01-02 15:04"), r.Snippet)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
