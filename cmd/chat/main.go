package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go-chat-client/internal/chat"
	"go-chat-client/internal/config"
	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
	"go-chat-client/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	// The notify hook needs the session for snapshots; handlers only fire
	// after Connect, so the late binding is safe.
	var session *chat.Session
	session, err = chat.NewSession(cfg, func(u chat.Update) { printUpdate(session, u) })
	if err != nil {
		fmt.Fprintln(os.Stderr, "login required:", err)
		os.Exit(1)
	}
	defer session.Close()

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		if apperrors.IsCode(err, apperrors.CodeAuth) {
			fmt.Fprintln(os.Stderr, "login required:", err)
			os.Exit(1)
		}
		// Transport failures are recovered by the reconnect loop.
		slog.Warn("Initial connect failed, reconnecting in background", "error", err)
	}

	fmt.Printf("signed in as %s\n", session.UserID)
	fmt.Println("commands: /rooms /join <id> /leave /info /members /add <id>... /remove <id> /retry <id> /search <q> /dm <user> /group <name> <id>... /quit")
	repl(ctx, session)
}

func repl(ctx context.Context, session *chat.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendText(session, line)
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "quit":
			return
		case "rooms":
			for _, conv := range session.Directory.List() {
				label := conv.Name
				if label == "" {
					label = strings.Join(conv.Participants, ", ")
				}
				fmt.Printf("  %s  [%s] %s\n", conv.ID, conv.Type, label)
			}
		case "join":
			if err := session.Open(ctx, arg); err != nil {
				fmt.Println("load failed:", err)
				continue
			}
			for _, msg := range session.Stream.Messages(arg) {
				printMessage(msg.SenderID, msg.Content, string(msg.State))
			}
		case "leave":
			session.LeaveRoom()
		case "members":
			conv, ok := session.Directory.Get(session.Rooms.Active())
			if !ok {
				fmt.Println("no active room")
				continue
			}
			for _, id := range conv.Participants {
				fmt.Println("  " + id)
			}
		case "add":
			if err := session.Members.Add(ctx, session.Rooms.Active(), strings.Fields(arg)); err != nil {
				fmt.Println("add failed:", err)
			}
		case "remove":
			if err := session.Members.Remove(ctx, session.Rooms.Active(), arg); err != nil {
				fmt.Println("remove failed:", err)
			}
		case "retry":
			if err := session.Stream.Retry(session.Rooms.Active(), arg); err != nil {
				fmt.Println("retry failed:", err)
			}
		case "search":
			users, err := session.API.SearchUsers(ctx, arg)
			if err != nil {
				fmt.Println("search failed:", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("  %s  %s\n", u.ID, u.Name)
			}
		case "dm":
			conv, err := session.API.CreateConversation(ctx, models.ConversationPrivate, "", []string{arg})
			if err != nil {
				fmt.Println("create failed:", err)
				continue
			}
			session.Directory.Put(conv)
			fmt.Println("created", conv.ID)
		case "group":
			name, rest, _ := strings.Cut(arg, " ")
			conv, err := session.API.CreateConversation(ctx, models.ConversationGroup, name, strings.Fields(rest))
			if err != nil {
				fmt.Println("create failed:", err)
				continue
			}
			session.Directory.Put(conv)
			fmt.Println("created", conv.ID)
		case "info":
			conv, err := session.API.GetConversation(ctx, session.Rooms.Active())
			if err != nil {
				fmt.Println("info failed:", err)
				continue
			}
			session.Directory.Put(conv)
			fmt.Printf("  %s [%s] members=%v admins=%v\n", conv.ID, conv.Type, conv.Participants, conv.Admins)
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

func sendText(session *chat.Session, text string) {
	room := session.Rooms.Active()
	if room == "" {
		fmt.Println("join a room first")
		return
	}
	if msg, err := session.Send(room, text); err != nil {
		fmt.Printf("send failed (%s), /retry %s\n", err, msg.ID)
	}
}

// printUpdate is the UI notify hook: re-render signals arrive here from the
// dispatch loop.
func printUpdate(session *chat.Session, u chat.Update) {
	switch u.Kind {
	case chat.UpdateMessages:
		msgs := session.Stream.Messages(u.ConversationID)
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		if last.SenderID != session.UserID {
			printMessage(last.SenderID, last.Content, string(last.State))
		}
	case chat.UpdateConversation:
		fmt.Println("* membership updated:", u.ConversationID)
	case chat.UpdateConnection:
		if u.Err != nil {
			fmt.Println("* connection error:", u.Err)
			return
		}
		if u.State == ws.StateConnected {
			fmt.Println("* connected")
		} else {
			fmt.Println("* reconnecting...")
		}
	case chat.UpdateTyping:
		// Typing indicators are too chatty for line output; log them.
		slog.Debug("Typing changed", "conversation", u.ConversationID)
	}
}

func printMessage(sender, content, state string) {
	fmt.Printf("  <%s> %s (%s)\n", sender, content, state)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
