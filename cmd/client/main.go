/*
Package main is the terminal chat client.

It signs in (or registers) against the relay server's HTTP API, opens the persistent channel,
and drives the client engine from stdin. Lines starting with "/" are commands; anything else is
sent to the open conversation. Logs go to stderr so the transcript on stdout stays readable.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"messenger/internal/api"
	"messenger/internal/app/chat"
	"messenger/internal/app/engine"
	"messenger/internal/configs"
	"messenger/internal/pkg/logx"
	"messenger/internal/transport/ws"
)

const usage = `commands:
  /users                     list users and presence
  /groups                    list your groups
  /open <user>               open a private conversation
  /group <id>                open a group conversation
  /new <name> <member...>    create a group
  /close                     close the open conversation
  /quit                      sign out and exit
anything else is sent to the open conversation`

func main() {
	_ = godotenv.Load()

	username := flag.String("user", os.Getenv("CHAT_USERNAME"), "username to sign in as")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password")
	register := flag.Bool("register", false, "create the account before signing in")
	flag.Parse()

	cfg, err := configs.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.Init(os.Stderr, cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *username, *password, *register, os.Stdin, os.Stdout); err != nil {
		logx.Fatal(err, "Client exited with error")
	}
}

func run(ctx context.Context, cfg *configs.ClientConfig, username, password string, register bool, in io.Reader, out io.Writer) error {
	apiClient := api.NewClient(cfg.ServerURL, nil)

	authCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	var (
		creds api.Credentials
		err   error
	)
	if register {
		creds, err = apiClient.Register(authCtx, username, password)
	} else {
		creds, err = apiClient.Login(authCtx, username, password)
	}
	if err != nil {
		return fmt.Errorf("sign in as %q: %w", username, err)
	}

	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return err
	}

	transport := ws.NewClient(ws.Config{
		URL:            wsURL,
		Token:          creds.Token,
		ReconnectBase:  cfg.ReconnectBase,
		ReconnectCap:   cfg.ReconnectCap,
		MaxRetries:     cfg.ReconnectMaxRetries,
		RequestTimeout: cfg.FetchTimeout,
	})

	eng := engine.New(creds.Username, transport,
		engine.WithFetchTimeout(cfg.FetchTimeout),
		engine.WithSendLimiter(rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)),
	)

	if err := eng.Start(ctx); err != nil {
		return err
	}

	term := &terminal{out: out, eng: eng}
	term.printf("signed in as %s (token valid until %s)\n%s\n", creds.Username, creds.ExpiresAt().Format(time.RFC1123), usage)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		term.render()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := term.execute(ctx, apiClient, creds.Token, line); quit {
				break loop
			}
		}
	}

	err = eng.Stop()
	wg.Wait()
	return err
}

// terminal renders engine state as plain text.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
	eng *engine.Engine

	// shownKey and shown track how much of the open conversation was printed.
	shownKey chat.Key
	shown    int
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) render() {
	for u := range t.eng.Updates() {
		switch u.Kind {
		case engine.UpdateConversation:
			t.renderConversation()
		case engine.UpdateConnection:
			if u.Err != nil {
				t.printf("! %v\n", u.Err)
			} else {
				t.printf("* connected\n")
			}
		case engine.UpdateServerError:
			t.printf("! %v\n", u.Err)
		}
	}
}

func (t *terminal) renderConversation() {
	state := t.eng.Conversation()

	t.mu.Lock()
	defer t.mu.Unlock()

	if state.Key != t.shownKey || len(state.Messages) < t.shown {
		t.shownKey = state.Key
		t.shown = 0
		if state.Active() {
			fmt.Fprintf(t.out, "== %s ==\n", state.DisplayName)
		}
	}
	if state.Loading {
		return
	}

	for _, msg := range state.Messages[t.shown:] {
		fmt.Fprintf(t.out, "[%s] %s: %s\n", msg.Time.Local().Format("15:04"), msg.Sender, msg.Content)
	}
	t.shown = len(state.Messages)
}

// execute runs one input line and reports whether the client should exit.
func (t *terminal) execute(ctx context.Context, apiClient *api.Client, token, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		t.report(t.eng.Send(line))
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true

	case "/users":
		t.listUsers(ctx, apiClient, token)

	case "/groups":
		for _, g := range t.eng.Groups() {
			preview := ""
			if msg, ok := t.eng.GroupPreview(g.ID); ok {
				preview = " - " + msg.Sender + ": " + msg.Content
			}
			t.printf("  %s  %s (%d members)%s\n", g.ID, g.Name, len(g.Members), preview)
		}

	case "/open":
		if len(fields) != 2 {
			t.printf("usage: /open <user>\n")
			return false
		}
		t.report(t.eng.OpenPrivate(fields[1]))

	case "/group":
		if len(fields) != 2 {
			t.printf("usage: /group <id>\n")
			return false
		}
		t.report(t.eng.OpenGroup(fields[1]))

	case "/new":
		if len(fields) < 3 {
			t.printf("usage: /new <name> <member...>\n")
			return false
		}
		t.report(t.eng.CreateGroup(fields[1], fields[2:]))

	case "/close":
		t.report(t.eng.ClearSelection())

	default:
		t.printf("%s\n", usage)
	}
	return false
}

func (t *terminal) listUsers(ctx context.Context, apiClient *api.Client, token string) {
	users := t.eng.Users()
	if len(users) == 0 {
		// before the first roster push, fall back to the directory
		var err error
		if users, err = apiClient.Users(ctx, token); err != nil {
			t.report(err)
			return
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	for _, u := range users {
		if u.Username == t.eng.Identity() {
			continue
		}
		status := "offline"
		if u.Online {
			status = "online"
		}
		preview := ""
		if msg, ok := t.eng.PreviewFor(u.Username); ok {
			preview = " - " + msg.Sender + ": " + msg.Content
		}
		t.printf("  %-20s %s%s\n", u.Username, status, preview)
	}
}

func (t *terminal) report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrStopped) {
		return
	}
	t.printf("! %v\n", err)
}
