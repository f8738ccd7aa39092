// ABOUTME: Terminal client for strand-server with live message streaming.
// ABOUTME: Provides login, channel commands and SSE event output with JWT auth.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// getToken returns the JWT token from STRAND_TOKEN env var or ~/.config/strand/token file
func getToken() string {
	if token := os.Getenv("STRAND_TOKEN"); token != "" {
		return token
	}

	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// tokenPath returns the path of the saved token file.
func tokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "strand", "token")
}

// sendRequest is the JSON body sent to POST /api/messages.
type sendRequest struct {
	Recipient       string `json:"recipient,omitempty"`
	ChannelID       string `json:"channelId,omitempty"`
	Kind            string `json:"kind"`
	Content         string `json:"content,omitempty"`
	AttachmentRef   string `json:"attachmentRef,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// loginRequest is the JSON body sent to POST /api/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the JSON response from POST /api/login.
type loginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// channelSummary is one entry in the GET /api/channels response.
type channelSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AdminID       string `json:"adminId"`
	MemberCount   int    `json:"memberCount"`
	LastMessageAt string `json:"lastMessageAt"`
}

// messageEntry is one message in a history page.
type messageEntry struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Kind          string `json:"kind"`
	Content       string `json:"content,omitempty"`
	AttachmentRef string `json:"attachmentRef,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// historyPage is the JSON response from the history endpoints.
type historyPage struct {
	Messages    []messageEntry `json:"messages"`
	HasMore     bool           `json:"hasMore"`
	CurrentPage int            `json:"currentPage"`
	TotalCount  int            `json:"totalCount"`
}

// target is the currently selected conversation: a DM peer or a channel.
type target struct {
	recipient string
	channelID string
}

func (t target) label() string {
	if t.recipient != "" {
		return "@" + t.recipient
	}
	if t.channelID != "" {
		return "#" + t.channelID
	}
	return ""
}

func main() {
	server := flag.String("server", "http://localhost:8080", "strand server URL")
	flag.Parse()

	fmt.Printf("strand-cli connected to %s\n", *server)
	if getToken() != "" {
		fmt.Println("Auth: JWT token configured")
	} else {
		fmt.Println("Auth: none (run /login or set STRAND_TOKEN)")
	}
	fmt.Println("Pick a conversation with /dm <user> or /ch <channel>. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server string) error {
	// Live events arrive on a background SSE stream while the loop reads input.
	if getToken() != "" {
		go streamLoop(ctx, server)
	}

	scanner := bufio.NewScanner(os.Stdin)
	var selected target

	for {
		if lbl := selected.label(); lbl != "" {
			fmt.Printf("[%s]> ", lbl)
		} else {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		cmd, args, _ := strings.Cut(input, " ")
		args = strings.TrimSpace(args)

		switch cmd {
		case "/login":
			if err := login(ctx, server, args); err != nil {
				fmt.Printf("[error] %v\n", err)
			} else {
				go streamLoop(ctx, server)
			}
			fmt.Println()
			continue

		case "/dm":
			if args == "" {
				selected = target{}
				fmt.Println("Cleared conversation selection")
			} else {
				selected = target{recipient: args}
				fmt.Printf("Messaging %s directly\n", args)
			}
			fmt.Println()
			continue

		case "/ch":
			if args == "" {
				selected = target{}
				fmt.Println("Cleared conversation selection")
			} else {
				selected = target{channelID: args}
				fmt.Printf("Messaging channel %s\n", args)
			}
			fmt.Println()
			continue

		case "/channels":
			if err := listChannels(ctx, server); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue

		case "/join", "/leave":
			id := args
			if id == "" {
				id = selected.channelID
			}
			if id == "" {
				fmt.Printf("Usage: %s <channel-id>\n", cmd)
			} else if err := channelAction(ctx, server, id, strings.TrimPrefix(cmd, "/")); err != nil {
				fmt.Printf("[error] %v\n", err)
			} else {
				fmt.Printf("%s %s ok\n", strings.TrimPrefix(cmd, "/"), id)
			}
			fmt.Println()
			continue

		case "/history":
			if err := fetchHistory(ctx, server, selected); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue

		case "/presence":
			if err := showPresence(ctx, server); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue

		case "/file":
			if err := sendMessage(ctx, server, selected, "file", args); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue

		case "/help":
			printHelp()
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/") {
			fmt.Printf("Unknown command %s (try /help)\n", cmd)
			fmt.Println()
			continue
		}

		if err := sendMessage(ctx, server, selected, "text", input); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /login <email>     Log in and save a token")
	fmt.Println("  /dm <user-id>      Select a direct conversation")
	fmt.Println("  /ch <channel-id>   Select a channel conversation")
	fmt.Println("  /channels          List channels, most recently active first")
	fmt.Println("  /join [id]         Join a channel")
	fmt.Println("  /leave [id]        Leave a channel")
	fmt.Println("  /history           Show the latest page of the selected conversation")
	fmt.Println("  /presence          Show online users")
	fmt.Println("  /file <ref>        Send a file reference to the selected conversation")
	fmt.Println("  /help              Show this help")
	fmt.Println("  /quit              Exit")
}

// login prompts for a password, exchanges credentials for a token and saves it.
func login(ctx context.Context, server, email string) error {
	if email == "" {
		return fmt.Errorf("usage: /login <email>")
	}

	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimSpace(password)

	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(lr.Token), 0600); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	fmt.Printf("Logged in as %s (%s)\n", lr.DisplayName, lr.UserID)
	return nil
}

// doJSON performs an authenticated request and decodes a JSON response into out.
// Pass nil out for responses with no body of interest.
func doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// apiError extracts the server's JSON error message when one is present.
func apiError(resp *http.Response) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return fmt.Errorf("%s", msg)
			}
		}
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func listChannels(ctx context.Context, server string) error {
	var channels []channelSummary
	if err := doJSON(ctx, http.MethodGet, server+"/api/channels", nil, &channels); err != nil {
		return err
	}

	if len(channels) == 0 {
		fmt.Println("No channels")
		return nil
	}

	fmt.Println("Channels:")
	for _, ch := range channels {
		fmt.Printf("  %s: %s (%d members, admin %s)\n", ch.ID, ch.Name, ch.MemberCount, ch.AdminID)
	}
	return nil
}

func channelAction(ctx context.Context, server, channelID, action string) error {
	url := fmt.Sprintf("%s/api/channels/%s/%s", server, channelID, action)
	return doJSON(ctx, http.MethodPost, url, nil, nil)
}

func showPresence(ctx context.Context, server string) error {
	var pr struct {
		Online []string `json:"online"`
	}
	if err := doJSON(ctx, http.MethodGet, server+"/api/presence", nil, &pr); err != nil {
		return err
	}

	if len(pr.Online) == 0 {
		fmt.Println("Nobody online")
		return nil
	}
	fmt.Printf("Online: %s\n", strings.Join(pr.Online, ", "))
	return nil
}

// fetchHistory fetches and displays the newest page of the selected conversation.
func fetchHistory(ctx context.Context, server string, sel target) error {
	var historyURL string
	switch {
	case sel.recipient != "":
		historyURL = fmt.Sprintf("%s/api/history/direct?peer=%s", server, url.QueryEscape(sel.recipient))
	case sel.channelID != "":
		historyURL = fmt.Sprintf("%s/api/history/channel?channel=%s", server, url.QueryEscape(sel.channelID))
	default:
		return fmt.Errorf("no conversation selected, use /dm or /ch first")
	}

	var page historyPage
	if err := doJSON(ctx, http.MethodGet, historyURL, nil, &page); err != nil {
		return err
	}

	if len(page.Messages) == 0 {
		fmt.Println("No messages")
		return nil
	}

	fmt.Printf("History for %s (%d total):\n", sel.label(), page.TotalCount)
	fmt.Println(strings.Repeat("-", 60))
	for _, msg := range page.Messages {
		printMessage(msg.Sender, msg.Kind, msg.Content, msg.AttachmentRef)
	}
	if page.HasMore {
		fmt.Printf("\033[2m... older messages available\033[0m\n")
	}
	fmt.Println(strings.Repeat("-", 60))

	return nil
}

func printMessage(sender, kind, content, attachmentRef string) {
	if kind == "file" {
		fmt.Printf("  \033[34m%s\033[0m \033[33m[file]\033[0m %s\n", sender, attachmentRef)
		return
	}
	fmt.Printf("  \033[34m%s\033[0m %s\n", sender, content)
}

func sendMessage(ctx context.Context, server string, sel target, kind, content string) error {
	if sel.recipient == "" && sel.channelID == "" {
		return fmt.Errorf("no conversation selected, use /dm or /ch first")
	}
	if content == "" {
		return fmt.Errorf("nothing to send")
	}

	reqBody := sendRequest{
		Recipient:       sel.recipient,
		ChannelID:       sel.channelID,
		Kind:            kind,
		ClientMessageID: uuid.New().String(),
	}
	if kind == "file" {
		reqBody.AttachmentRef = content
	} else {
		reqBody.Content = content
	}

	return doJSON(ctx, http.MethodPost, server+"/api/messages", reqBody, nil)
}

// streamLoop keeps a live SSE connection open, reconnecting with a prompt on drop.
func streamLoop(ctx context.Context, server string) {
	token := getToken()
	if token == "" {
		return
	}

	streamURL := fmt.Sprintf("%s/api/stream?token=%s", server, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		fmt.Printf("\n[stream error] %v\n", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Printf("\n[stream error] %v\n", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("\n[stream error] %v\n", apiError(resp))
		return
	}

	if err := streamSSE(ctx, resp.Body); err != nil && ctx.Err() == nil {
		fmt.Printf("\n[stream closed] %v\n", err)
	}
}

func streamSSE(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				handleSSEEvent(eventType, data)
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	return scanner.Err()
}

func handleSSEEvent(eventType, data string) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return
	}

	str := func(key string) string {
		s, _ := payload[key].(string)
		return s
	}

	switch eventType {
	case "connected":
		if online, ok := payload["online"].([]interface{}); ok && len(online) > 0 {
			parts := make([]string, 0, len(online))
			for _, u := range online {
				if s, ok := u.(string); ok {
					parts = append(parts, s)
				}
			}
			fmt.Printf("\n\033[2m[connected] online: %s\033[0m\n", strings.Join(parts, ", "))
		} else {
			fmt.Printf("\n\033[2m[connected]\033[0m\n")
		}

	case "receive-direct":
		fmt.Println()
		printMessage(str("sender"), str("kind"), str("content"), str("attachmentRef"))

	case "receive-channel":
		fmt.Println()
		fmt.Printf("  \033[36m#%s\033[0m", str("channelId"))
		printMessage(str("sender"), str("kind"), str("content"), str("attachmentRef"))

	case "user-online":
		fmt.Printf("\n\033[32m[online]\033[0m %s\n", str("userId"))

	case "user-offline":
		fmt.Printf("\n\033[33m[offline]\033[0m %s\n", str("userId"))

	default:
		// Ignore unknown events silently
	}
}
