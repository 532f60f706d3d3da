// stampctl talks to a running stampd over the profile socket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/stampcircle/stampd/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	profileName := session.Resolve(*profileFlag)
	if err := session.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(profileName))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		c.get(ctx, "/v1/status", *jsonFlag, printStatus)
	case "sync":
		kind := ""
		if len(args) > 1 {
			kind = args[1]
		}
		path := "/v1/sync"
		if kind != "" {
			path += "/" + kind
		}
		c.post(ctx, path, nil, *jsonFlag, printGeneric)
	case "feed":
		c.get(ctx, "/v1/posts", *jsonFlag, printFeed)
	case "post":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: stampctl post <body> [topic]")
			os.Exit(1)
		}
		body := map[string]string{"body": args[1]}
		if len(args) > 2 {
			body["topic"] = args[2]
		}
		c.post(ctx, "/v1/posts", body, *jsonFlag, printGeneric)
	case "comments":
		needArg(args, 2, "stampctl comments <post-id>")
		c.get(ctx, "/v1/posts/"+args[1]+"/comments", *jsonFlag, printGeneric)
	case "comment":
		needArg(args, 3, "stampctl comment <post-id> <body>")
		c.post(ctx, "/v1/posts/"+args[1]+"/comments", map[string]string{"body": args[2]}, *jsonFlag, printGeneric)
	case "react":
		needArg(args, 2, "stampctl react <post-id> [emoji]")
		body := map[string]any{"subject_kind": "post", "subject_id": mustID(args[1])}
		if len(args) > 2 {
			body["emoji"] = args[2]
		}
		c.post(ctx, "/v1/reactions/toggle", body, *jsonFlag, printGeneric)
	case "conversations":
		c.get(ctx, "/v1/conversations", *jsonFlag, printGeneric)
	case "messages":
		needArg(args, 2, "stampctl messages <conversation-id>")
		c.get(ctx, "/v1/conversations/"+args[1]+"/messages", *jsonFlag, printGeneric)
	case "send":
		needArg(args, 3, "stampctl send <conversation-id> <body>")
		c.post(ctx, "/v1/conversations/"+args[1]+"/messages", map[string]string{"body": args[2]}, *jsonFlag, printGeneric)
	case "notifications":
		c.get(ctx, "/v1/notifications", *jsonFlag, printGeneric)
	case "deadletter":
		if len(args) > 2 && (args[1] == "retry" || args[1] == "discard") {
			needArg(args, 4, "stampctl deadletter <retry|discard> <kind> <id>")
			c.post(ctx, "/v1/deadletter/"+args[1], map[string]any{"kind": args[2], "id": mustID(args[3])}, *jsonFlag, printGeneric)
			return
		}
		c.get(ctx, "/v1/deadletter", *jsonFlag, printGeneric)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: stampctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync [kind]                    Trigger an outbound sync pass")
	fmt.Fprintln(os.Stderr, "  feed                           List cached posts")
	fmt.Fprintln(os.Stderr, "  post <body> [topic]            Create a post")
	fmt.Fprintln(os.Stderr, "  comments <post-id>             List a post's comments")
	fmt.Fprintln(os.Stderr, "  comment <post-id> <body>       Comment on a post")
	fmt.Fprintln(os.Stderr, "  react <post-id> [emoji]        Toggle a reaction")
	fmt.Fprintln(os.Stderr, "  conversations                  List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conversation-id>     List messages")
	fmt.Fprintln(os.Stderr, "  send <conversation-id> <body>  Send a message")
	fmt.Fprintln(os.Stderr, "  notifications                  List notifications")
	fmt.Fprintln(os.Stderr, "  deadletter [retry|discard ...] Inspect or resolve rejected rows")
}

func needArg(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func mustID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %q is not an id\n", s)
		os.Exit(1)
	}
	return id
}

type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}}
}

func (c *client) get(ctx context.Context, path string, jsonOut bool, render func(json.RawMessage)) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://stampd"+path, nil)
	if err != nil {
		fail(err)
	}
	c.run(req, jsonOut, render)
}

func (c *client) post(ctx context.Context, path string, body any, jsonOut bool, render func(json.RawMessage)) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fail(err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://stampd"+path, &buf)
	if err != nil {
		fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.run(req, jsonOut, render)
}

func (c *client) run(req *http.Request, jsonOut bool, render func(json.RawMessage)) {
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(err)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "error: %s\n", raw)
		os.Exit(1)
	}
	if jsonOut {
		fmt.Println(string(raw))
		return
	}
	render(raw)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printGeneric(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func printStatus(raw json.RawMessage) {
	var s struct {
		Profile   string `json:"profile"`
		UserID    int64  `json:"user_id"`
		State     string `json:"state"`
		Connected bool   `json:"connected"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		printGeneric(raw)
		return
	}
	fmt.Printf("Profile:   %s\n", s.Profile)
	fmt.Printf("User:      %d\n", s.UserID)
	fmt.Printf("State:     %s\n", s.State)
	fmt.Printf("Connected: %v\n", s.Connected)
}

func printFeed(raw json.RawMessage) {
	var posts []struct {
		ID        int64  `json:"ID"`
		AuthorID  int64  `json:"AuthorID"`
		Body      string `json:"Body"`
		Topic     string `json:"Topic"`
		Synced    int    `json:"Synced"`
		CreatedAt int64  `json:"CreatedAt"`
	}
	if err := json.Unmarshal(raw, &posts); err != nil {
		printGeneric(raw)
		return
	}
	if len(posts) == 0 {
		fmt.Println("no posts cached")
		return
	}
	for _, p := range posts {
		marker := " "
		if p.Synced == 0 {
			marker = "*"
		}
		body := p.Body
		if len(body) > 60 {
			body = body[:60] + "…"
		}
		fmt.Printf("%s %-12d %s\n", marker, p.ID, body)
	}
}
