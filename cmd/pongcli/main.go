// pongcli is a line-oriented test client: it logs in to a lobby node,
// drives matchmaking from stdin, and follows server redirects across
// nodes automatically.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

type client struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *client) connect(addr, token string) error {
	url := "ws://" + addr + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c.mu.Lock()
	old := c.ws
	c.ws = ws
	c.mu.Unlock()
	if old != nil {
		old.Close(websocket.StatusNormalClosure, "redirected")
	}
	go c.readLoop(ws)
	return nil
}

func (c *client) send(msgType string, body any) {
	var raw json.RawMessage
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			fmt.Fprintf(os.Stderr, "encode %s: %v\n", msgType, err)
			return
		}
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		fmt.Fprintln(os.Stderr, "not connected")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, envelope{Type: msgType, Body: raw}); err != nil {
		fmt.Fprintf(os.Stderr, "send %s: %v\n", msgType, err)
	}
}

func (c *client) readLoop(ws *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), ws, &env); err != nil {
			c.mu.Lock()
			active := c.ws == ws
			c.mu.Unlock()
			if active {
				fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			}
			return
		}
		if env.Type == "redirect" {
			var rd struct {
				Addr  string `json:"addr"`
				Token string `json:"token"`
			}
			if err := json.Unmarshal(env.Body, &rd); err != nil {
				fmt.Fprintf(os.Stderr, "bad redirect: %v\n", err)
				return
			}
			fmt.Printf("<< redirect to %s\n", rd.Addr)
			if err := c.connect(rd.Addr, rd.Token); err != nil {
				fmt.Fprintf(os.Stderr, "redirect failed: %v\n", err)
			}
			return
		}
		fmt.Printf("<< %s %s\n", env.Type, env.Body)
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8012", "lobby address")
	id := flag.String("id", "", "account id to log in with")
	flag.Parse()
	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: pongcli -id <account> [-addr host:port]")
		os.Exit(1)
	}

	c := &client{}
	if err := c.connect(*addr, ""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	c.send("login", map[string]string{"id": *id})

	fmt.Println("commands: match | cancel | ready | result | rank | relay <json> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "match":
			c.send("match", nil)
		case "cancel":
			c.send("cancelmatch", nil)
		case "ready":
			c.send("ready", nil)
		case "result":
			c.send("result", nil)
		case "rank":
			c.send("ranklist", nil)
		case "relay":
			if !json.Valid([]byte(rest)) {
				fmt.Fprintln(os.Stderr, "relay wants a JSON payload")
				continue
			}
			c.send("relay", json.RawMessage(rest))
		case "quit":
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
}
