package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"daters/cmd/identity"
	"daters/cmd/internal/groups"
)

type fakeGroups struct {
	mu     sync.Mutex
	byUser map[string]int64
}

func (g *fakeGroups) CurrentGroup(_ context.Context, userID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gid, ok := g.byUser[userID]
	switch {
	case !ok:
		return 0, identity.OpError{Op: "test", Kind: identity.ErrRegistration}
	case gid == 0:
		return 0, identity.OpError{Op: "test", Kind: groups.ErrNoGroup}
	}
	return gid, nil
}

func (g *fakeGroups) set(userID string, gid int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byUser[userID] = gid
}

func startFeed(t *testing.T, cfg FeedConfig) (*httptest.Server, *Hub, *fakeGroups) {
	t.Helper()

	hub := NewHub(nil)
	fg := &fakeGroups{byUser: map[string]int64{"u1": 1, "u2": 2, "lonely": 0}}

	mux := http.NewServeMux()
	mux.Handle("GET /feed/{user_id}", NewFeed(nil, hub, fg, cfg))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, hub, fg
}

func dialFeed(t *testing.T, baseURL, userID, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/feed/" + userID

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{feedSubprotocol},
		HTTPHeader:   h,
	})
}

func mustDialFeed(t *testing.T, baseURL, userID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialFeed(t, baseURL, userID, "http://localhost")
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: status=%d err=%v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func waitSubscribers(t *testing.T, hub *Hub, groupID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Subscribers(groupID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("group %d: subscribers = %d, want %d", groupID, hub.Subscribers(groupID), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeed_HandshakeRejections(t *testing.T) {
	t.Parallel()
	ts, _, _ := startFeed(t, DefaultFeedConfig())

	cases := []struct {
		name, user, origin string
		want               int
	}{
		{"missing origin", "u1", "", http.StatusForbidden},
		{"foreign origin", "u1", "https://evil.example", http.StatusForbidden},
		{"unknown user", "ghost", "http://localhost", http.StatusNotFound},
		{"no group", "lonely", "http://localhost", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dialFeed(t, ts.URL, tc.user, tc.origin)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err == nil {
				t.Fatalf("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got resp=%v err=%v", tc.want, resp, err)
			}
		})
	}
}

func TestFeed_DeliversOnlyOwnGroup(t *testing.T) {
	t.Parallel()
	ts, hub, _ := startFeed(t, DefaultFeedConfig())

	c1 := mustDialFeed(t, ts.URL, "u1")
	if ev := readEvent(t, c1); ev.Type != TypeHello || ev.GroupID != 1 {
		t.Fatalf("hello = %+v", ev)
	}
	waitSubscribers(t, hub, 1, 1)

	hub.DatesChanged(2)
	hub.DatesChanged(1)

	ev := readEvent(t, c1)
	if ev.Type != TypeDatesChanged || ev.GroupID != 1 {
		t.Fatalf("expected own group's event first, got %+v", ev)
	}
}

func TestFeed_PingPong(t *testing.T) {
	t.Parallel()
	ts, _, _ := startFeed(t, DefaultFeedConfig())

	c := mustDialFeed(t, ts.URL, "u2")
	_ = readEvent(t, c)

	writeFrame(t, c, inbound{Type: TypePing})
	if ev := readEvent(t, c); ev.Type != TypePong {
		t.Fatalf("expected pong, got %+v", ev)
	}

	writeFrame(t, c, map[string]any{"type": "subscribe", "group_id": 1})
	if ev := readEvent(t, c); ev.Type != TypeError || ev.Code != "unsupported" {
		t.Fatalf("expected unsupported error, got %+v", ev)
	}
}

func TestFeed_RateLimited(t *testing.T) {
	t.Parallel()
	cfg := DefaultFeedConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	ts, _, _ := startFeed(t, cfg)

	c := mustDialFeed(t, ts.URL, "u1")
	_ = readEvent(t, c)

	for i := 0; i < 3; i++ {
		writeFrame(t, c, inbound{Type: TypePing})
	}

	for i := 0; i < 3; i++ {
		ev := readEvent(t, c)
		if ev.Type == TypeError && ev.Code == "rate_limited" {
			return
		}
	}
	t.Fatalf("rate limit not reported")
}

func TestFeed_ClosesWhenGroupChanges(t *testing.T) {
	t.Parallel()
	cfg := DefaultFeedConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	ts, hub, fg := startFeed(t, cfg)

	c := mustDialFeed(t, ts.URL, "u1")
	_ = readEvent(t, c)
	waitSubscribers(t, hub, 1, 1)

	fg.set("u1", 2)

	ev := readEvent(t, c)
	if ev.Type != TypeError || ev.Code != "group_changed" {
		t.Fatalf("expected group_changed, got %+v", ev)
	}
	waitSubscribers(t, hub, 1, 0)
	if hub.Subscribers(2) != 0 {
		t.Fatalf("client must not move to the new group")
	}
}

func TestFeed_WithholdsEventsAfterGroupChange(t *testing.T) {
	t.Parallel()
	cfg := DefaultFeedConfig()
	cfg.HeartbeatInterval = time.Hour
	ts, hub, fg := startFeed(t, cfg)

	c := mustDialFeed(t, ts.URL, "u1")
	_ = readEvent(t, c)
	waitSubscribers(t, hub, 1, 1)

	fg.set("u1", 2)
	hub.DatesChanged(1)

	ev := readEvent(t, c)
	if ev.Type != TypeError || ev.Code != "group_changed" {
		t.Fatalf("expected group_changed instead of the old group's event, got %+v", ev)
	}
	waitSubscribers(t, hub, 1, 0)
}
