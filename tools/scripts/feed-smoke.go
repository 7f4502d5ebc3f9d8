// Package main is a CI-friendly end-to-end smoke test for a running daters
// server.
//
// It validates:
//   - registration, activation and group setup over the JSON API
//   - feed handshake and subprotocol selection
//   - dates_changed fanout to every member of the acting group
//   - no fanout to a member of another group
//   - ping/pong
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	feedSubprotocol = "daters.feed.v1"
	maxReadBytes    = 1 << 16
)

type event struct {
	Type    string    `json:"type"`
	GroupID int64     `json:"group_id,omitempty"`
	TS      time.Time `json:"ts"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

type user struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Stage   string `json:"stage"`
	GroupID *int64 `json:"group_id,omitempty"`
}

type apiClient struct {
	base string
	http *http.Client
}

type feedClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan event
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "daters base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the feed handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	api := &apiClient{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}}
	run := time.Now().UnixNano()

	a := api.mustActiveUser(root, fmt.Sprintf("smoke-a-%d@example.com", run))
	b := api.mustActiveUser(root, fmt.Sprintf("smoke-b-%d@example.com", run))
	c := api.mustActiveUser(root, fmt.Sprintf("smoke-c-%d@example.com", run))

	var ga user
	api.mustDo(root, http.MethodPost, "/users/"+a.ID+"/group", nil, http.StatusCreated, &ga)
	if ga.GroupID == nil {
		fatalf("create group: response has no group_id")
	}
	var gb user
	api.mustDo(root, http.MethodPost, "/users/"+b.ID+"/group/join", map[string]any{"email": a.Email}, http.StatusOK, &gb)
	if gb.GroupID == nil || *gb.GroupID != *ga.GroupID {
		fatalf("join by email: got group %v want %d", gb.GroupID, *ga.GroupID)
	}
	api.mustDo(root, http.MethodPost, "/users/"+c.ID+"/group", nil, http.StatusCreated, nil)

	wsBase := wsBaseURL(api.base)
	fa := mustConnect(root, "A", wsBase+"/feed/"+a.ID, *origin, *timeout)
	defer closeWS(fa.conn)
	fb := mustConnect(root, "B", wsBase+"/feed/"+b.ID, *origin, *timeout)
	defer closeWS(fb.conn)
	fc := mustConnect(root, "C", wsBase+"/feed/"+c.ID, *origin, *timeout)
	defer closeWS(fc.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s C=%s group=%d\n", a.ID, b.ID, c.ID, *ga.GroupID)
	}

	var d struct {
		ID string `json:"id"`
	}
	api.mustDo(root, http.MethodPost, "/dates/"+a.ID, map[string]any{"name": "Picnic"}, http.StatusCreated, &d)

	for _, f := range []*feedClient{fa, fb} {
		ev := f.mustReadUntilType(root, "dates_changed", *timeout)
		if ev.GroupID != *ga.GroupID {
			fatalf("dates_changed group mismatch (%s): got=%d want=%d", f.name, ev.GroupID, *ga.GroupID)
		}
	}
	mustAssertNoType(root, fc, "dates_changed", 1200*time.Millisecond)

	api.mustDo(root, http.MethodPost, "/dates/"+b.ID+"/"+d.ID+"/increment", nil, http.StatusOK, nil)
	fa.mustReadUntilType(root, "dates_changed", *timeout)

	var list struct {
		Dates []struct {
			ID    string `json:"id"`
			Count int64  `json:"count"`
		} `json:"dates"`
	}
	api.mustDo(root, http.MethodGet, "/dates/"+b.ID, nil, http.StatusOK, &list)
	if len(list.Dates) != 1 || list.Dates[0].ID != d.ID || list.Dates[0].Count != 1 {
		fatalf("list dates: unexpected %+v", list.Dates)
	}
	api.mustDo(root, http.MethodGet, "/dates/"+c.ID+"/"+d.ID, nil, http.StatusNotFound, nil)

	mustWriteWithTimeout(root, fb.conn, event{Type: "ping"}, *timeout)
	fb.mustReadUntilType(root, "pong", *timeout)

	fmt.Printf("OK: group=%d date=%s\n", *ga.GroupID, d.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func (c *apiClient) mustActiveUser(ctx context.Context, email string) user {
	var u user
	c.mustDo(ctx, http.MethodPost, "/register", map[string]any{"email": email, "password": "smoke-test-password"}, http.StatusCreated, &u)
	c.mustDo(ctx, http.MethodPost, "/activate/"+u.ID, nil, http.StatusOK, &u)
	if u.Stage != "no_group" {
		fatalf("activate %s: stage=%q", email, u.Stage)
	}
	return u
}

func (c *apiClient) mustDo(ctx context.Context, method, path string, body any, wantStatus int, out any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s %s: %v", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{feedSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != feedSubprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, feedSubprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &feedClient{
		name:  name,
		conn:  conn,
		inbox: make(chan event, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	c.mustReadUntilType(parent, "hello", stepTimeout)
	return c
}

func (c *feedClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- ev:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertNoType(parent context.Context, c *feedClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case ev, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if ev.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *feedClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case ev, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if ev.Type == wantType {
				return ev
			}
			if ev.Type == "error" {
				fatalf("server error (%s): code=%q msg=%q", c.name, ev.Code, ev.Message)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, ev event, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		fatalf("marshal event: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
