package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"daters/cmd/identity"
	"daters/cmd/identity/ids"
	"daters/cmd/internal/groups"
)

const feedSubprotocol = "daters.feed.v1"

// GroupResolver resolves a user's current group server-side.
// groups.Service implements it.
type GroupResolver interface {
	CurrentGroup(ctx context.Context, userID string) (int64, error)
}

type FeedConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	AllowedOrigins []string
	// InsecureSkipVerify disables the library's own origin check. Dev only.
	InsecureSkipVerify bool

	WriteTimeout      time.Duration
	SendQueueSize     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      defaultWriteTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// Feed serves GET /feed/{user_id}. The subscription's group is resolved from
// the user id; clients cannot name a group. The group is re-resolved on every
// heartbeat and before each dates_changed delivery; once it no longer matches
// the client gets group_changed instead and the connection is closed.
type Feed struct {
	log    *slog.Logger
	hub    *Hub
	groups GroupResolver
	cfg    FeedConfig

	// Accept authorizes same-host origins on its own; cross-origin hosts need
	// to be listed here as well.
	originPatterns []string
}

func NewFeed(log *slog.Logger, hub *Hub, groups GroupResolver, cfg FeedConfig) *Feed {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	def := DefaultFeedConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return &Feed{
		log:            log,
		hub:            hub,
		groups:         groups,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f.enforceOrigin(r); err != nil {
		f.log.Info("feed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		writeHTTPError(w, http.StatusForbidden, "forbidden", "origin not allowed")
		return
	}

	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeHTTPError(w, http.StatusBadRequest, "invalid_input", "missing user id")
		return
	}

	groupID, err := f.groups.CurrentGroup(r.Context(), userID)
	if err != nil {
		status, code := resolveStatus(err)
		if status == http.StatusInternalServerError {
			f.log.Error("feed.resolve.fail", "user_id", userID, "err", err)
		}
		writeHTTPError(w, status, code, http.StatusText(status))
		return
	}

	// The server's read/write timeouts would otherwise outlive the upgrade
	// and cut idle subscribers.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{feedSubprotocol},
		OriginPatterns:     f.originPatterns,
		InsecureSkipVerify: f.cfg.InsecureSkipVerify,
	})
	if err != nil {
		f.log.Error("feed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != feedSubprotocol {
		f.log.Info("feed.reject.subprotocol", "got", sp, "want", feedSubprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	clientID, err := ids.New(time.Time{})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	f.serve(r.Context(), conn, NewClient(clientID, userID, groupID, f.cfg.SendQueueSize))
}

func (f *Feed) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	f.hub.Subscribe(client)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			f.hub.Unsubscribe(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	f.enqueue(client, Event{Type: TypeHello, GroupID: client.GroupID, TS: time.Now().UTC()})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case ev := <-client.Send:
				if ev.Type == TypeDatesChanged {
					switch f.checkMembership(ctx, client) {
					case memberUnknown:
						continue
					case memberChanged:
						ev = errorEvent("group_changed", "group membership changed")
					}
				}
				if err := writeEvent(ctx, conn, ev, f.cfg.WriteTimeout); err != nil {
					f.log.Info("feed.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if ev.Type == TypeError && ev.Code == "group_changed" {
					shutdown(websocket.StatusPolicyViolation, "group changed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		f.heartbeat(ctx, conn, client, shutdown)
	}()

	rl := NewRateLimiter(f.cfg.RateEvents, f.cfg.RateWindow)

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				f.log.Info("feed.read.fail", "client_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now().UTC()) {
			f.log.Warn("feed.rate_limited", "client_id", client.ID, "user_id", client.UserID)
			_ = writeEvent(ctx, conn, errorEvent("rate_limited", "too many frames"), f.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var in inbound
		if mt != websocket.MessageText || json.Unmarshal(data, &in) != nil {
			f.enqueue(client, errorEvent("bad_frame", "expected a JSON text frame"))
			continue
		}
		switch in.Type {
		case TypePing:
			f.enqueue(client, Event{Type: TypePong, TS: time.Now().UTC()})
		default:
			f.enqueue(client, errorEvent("unsupported", fmt.Sprintf("unsupported type: %q", in.Type)))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// heartbeat pings the peer and re-checks that the user is still in the
// subscribed group.
func (f *Feed) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(f.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
		}

		if f.checkMembership(ctx, client) == memberChanged {
			// The writer closes the connection after flushing this event.
			if !f.enqueue(client, errorEvent("group_changed", "group membership changed")) {
				shutdown(websocket.StatusPolicyViolation, "group changed")
			}
			return
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, f.cfg.HeartbeatTimeout)
		err := conn.Ping(pingCtx)
		pingCancel()
		if err != nil {
			failures++
			f.log.Info("feed.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
			continue
		}
		failures = 0
	}
}

type membership uint8

const (
	memberCurrent membership = iota
	// memberUnknown means the store failed; the caller neither delivers nor
	// disconnects.
	memberUnknown
	memberChanged
)

func (f *Feed) checkMembership(ctx context.Context, client *Client) membership {
	gid, err := f.groups.CurrentGroup(ctx, client.UserID)
	switch {
	case err == nil && gid == client.GroupID:
		return memberCurrent
	case err != nil && identity.IsUnexpected(err):
		f.log.Warn("feed.resolve.fail", "client_id", client.ID, "err", err)
		return memberUnknown
	default:
		f.log.Info("feed.group_changed", "client_id", client.ID, "user_id", client.UserID, "group_id", client.GroupID)
		return memberChanged
	}
}

func (f *Feed) enqueue(client *Client, ev Event) bool {
	select {
	case <-client.Done():
		return false
	default:
	}
	select {
	case client.Send <- ev:
		return true
	default:
		return false
	}
}

func errorEvent(code, msg string) Event {
	return Event{Type: TypeError, Code: code, Message: msg, TS: time.Now().UTC()}
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func resolveStatus(err error) (int, string) {
	switch {
	case errors.Is(err, groups.ErrNoGroup):
		return http.StatusForbidden, "group_required"
	case identity.IsRegistration(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeHTTPError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

func (f *Feed) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if f.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(f.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range f.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*", a == origin:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost extracts the lowercased host from a URL or host[:port].
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
