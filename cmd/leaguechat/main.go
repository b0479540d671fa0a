package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leaguechat/internal/api"
	"leaguechat/internal/bus"
	"leaguechat/internal/config"
	"leaguechat/internal/profile"
	"leaguechat/internal/status"
	"leaguechat/internal/store"
	"leaguechat/internal/transport"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	client := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "threads":
		cmdThreads(ctx, client, cfg, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat messages <thread-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, client, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat send <thread-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, client, cfg, args[1], strings.Join(args[2:], " "))
	case "contacts":
		cmdContacts(ctx, client, cfg, *jsonFlag)
	case "members":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat members <thread-id>")
			os.Exit(1)
		}
		cmdMembers(ctx, client, args[1], *jsonFlag)
	case "create":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat create <name> <user-id> [user-id...]")
			os.Exit(1)
		}
		cmdCreate(ctx, client, cfg, args[1], args[2:])
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat search <query>")
			os.Exit(1)
		}
		cmdSearch(profileName, args[1], *jsonFlag)
	case "watch":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: leaguechat watch <thread-id>")
			os.Exit(1)
		}
		cmdWatch(cfg, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: leaguechat [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  threads               List conversations")
	fmt.Fprintln(os.Stderr, "  messages <thread-id>  List messages in a thread")
	fmt.Fprintln(os.Stderr, "  send <thread-id> <t>  Send a message")
	fmt.Fprintln(os.Stderr, "  contacts              List users available for new threads")
	fmt.Fprintln(os.Stderr, "  members <thread-id>   List a thread's members")
	fmt.Fprintln(os.Stderr, "  create <name> <ids>   Create a thread with the given members")
	fmt.Fprintln(os.Stderr, "  search <query>        Search the local history cache")
	fmt.Fprintln(os.Stderr, "  watch <thread-id>     Stream a thread's realtime events")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{}
	} else if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}

func cmdThreads(ctx context.Context, client *api.Client, cfg *config.Config, jsonOut bool) {
	threads, err := client.Threads(ctx, cfg.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(threads)
		return
	}
	if len(threads) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, t := range threads {
		preview := ""
		if last := t.LastMessage(); last != nil {
			preview = last.Content
		}
		fmt.Printf("%-36s %-24s %s\n", t.ID, t.Name, preview)
	}
}

func cmdMessages(ctx context.Context, client *api.Client, threadID string, jsonOut bool) {
	msgs, err := client.Messages(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content)
	}
}

func cmdSend(ctx context.Context, client *api.Client, cfg *config.Config, threadID, text string) {
	msg, err := client.SendMessage(ctx, threadID, api.SendMessageRequest{
		SenderID: cfg.UserID,
		Content:  text,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent %s\n", msg.ID)
}

func cmdContacts(ctx context.Context, client *api.Client, cfg *config.Config, jsonOut bool) {
	users, err := client.AvailableUsers(ctx, cfg.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-36s %s\n", u.ID, u.Name)
	}
}

func cmdMembers(ctx context.Context, client *api.Client, threadID string, jsonOut bool) {
	users, err := client.ThreadMembers(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-36s %s\n", u.ID, u.Name)
	}
}

func cmdCreate(ctx context.Context, client *api.Client, cfg *config.Config, name string, userIDs []string) {
	thread, err := client.CreateThread(ctx, api.CreateThreadRequest{
		Name:      name,
		IsGroup:   len(userIDs) > 1,
		UserIDs:   userIDs,
		CreatedBy: cfg.UserID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created %s\n", thread.ID)
}

// cmdSearch queries the profile's history cache directly; it works
// offline and does not need the daemon.
func cmdSearch(profileName, query string, jsonOut bool) {
	db, err := store.Open(profile.HistoryDBPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open history cache for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	results, err := db.SearchMessages(query, "", 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
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
		fmt.Printf("%-36s %s\n", r.Message.ThreadID, r.Snippet)
	}
}

func cmdWatch(cfg *config.Config, threadID string) {
	logger := zap.NewNop()
	machine := status.NewMachine(bus.New())
	sock := transport.NewSocket(cfg.SocketURL, cfg.AuthToken, machine, logger)

	for _, event := range []string{
		transport.EventNewMessage,
		transport.EventMessageDeleted,
		transport.EventMessageRead,
		transport.EventTypingStatus,
	} {
		sock.On(event, func(data json.RawMessage) {
			fmt.Printf("%s %s\n", event, data)
		})
	}

	if err := sock.Connect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sock.Close() }()

	if err := sock.JoinRoom(threadID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("watching %s (ctrl-c to stop)\n", threadID)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
