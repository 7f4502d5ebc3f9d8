// Package mail hands account-activation links to a delivery channel.
//
// Delivery is best effort: registration never waits on it and never fails
// because of it.
package mail

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Activation is the message a new user needs to finish registration.
type Activation struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	URL    string `json:"url"`
}

// LogValue keeps the address out of logs.
func (a Activation) LogValue() slog.Value {
	return slog.GroupValue(slog.String("user_id", a.UserID))
}

type Sender interface {
	SendActivation(ctx context.Context, a Activation) error
}

// NoopSender drops every message.
type NoopSender struct{}

func (NoopSender) SendActivation(context.Context, Activation) error { return nil }

// LogSender writes the activation link to a logger. Intended for local runs
// where no broker is configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) SendActivation(_ context.Context, a Activation) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail.activation.logged", "user_id", a.UserID, "url", a.URL)
	return nil
}

// ActivationURL joins the public base URL and the activation path for userID.
func ActivationURL(baseURL, userID string) string {
	return strings.TrimRight(baseURL, "/") + "/activate/" + url.PathEscape(userID)
}

// Dispatch sends a in the background on a context detached from the request.
// Failures are logged, never returned.
func Dispatch(log *slog.Logger, s Sender, a Activation, timeout time.Duration) {
	if s == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := s.SendActivation(ctx, a); err != nil {
			log.Warn("mail.activation.fail", "user_id", a.UserID, "err", err)
			return
		}
		log.Info("mail.activation.ok", "user_id", a.UserID, "dur_ms", time.Since(start).Milliseconds())
	}()
}
