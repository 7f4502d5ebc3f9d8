// Package api is the JSON HTTP surface over identity, groups, dates and the
// expansion cache.
//
// Every route names the acting user in its path. Session issuance lives in
// front of this service; handlers trust the user id they are given and let
// the services enforce lifecycle and group scoping.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"daters/cmd/identity"
	"daters/cmd/internal/dates"
	"daters/cmd/internal/expansion"
	"daters/cmd/internal/mail"
	"daters/cmd/security/secret"
)

// Users is the identity service as the API uses it.
type Users interface {
	Register(ctx context.Context, u identity.Unregistered) (identity.Inactive, error)
	Activate(ctx context.Context, userID string) (identity.NoGroupUser, error)
	Validate(ctx context.Context, email string, pw secret.String) (identity.AuthorizedUser, error)
	ChangePassword(ctx context.Context, userID string, pw secret.String) error
	Deactivate(ctx context.Context, userID string) (identity.Inactive, error)
	Remove(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (identity.State, error)
}

// Groups is the group membership service as the API uses it.
type Groups interface {
	CreateGroup(ctx context.Context, userID string) (identity.GroupUser, error)
	JoinGroupByID(ctx context.Context, userID string, groupID int64) (identity.GroupUser, error)
	JoinGroupByEmail(ctx context.Context, userID, peerEmail string) (identity.GroupUser, error)
	LeaveGroup(ctx context.Context, userID string) (identity.NoGroupUser, error)
}

// Recorder receives business counters. The zero Handler uses a no-op.
type Recorder interface {
	Login(result string)
	Registration()
}

type noopRecorder struct{}

func (noopRecorder) Login(string)  {}
func (noopRecorder) Registration() {}

type Config struct {
	MaxBodyBytes int64
	// PublicURL prefixes activation links.
	PublicURL   string
	MailTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,
		PublicURL:    "http://localhost:8080",
		MailTimeout:  10 * time.Second,
	}
}

type Handler struct {
	log *slog.Logger
	cfg Config

	users  Users
	groups Groups
	dates  dates.Repository
	cache  *expansion.Cache

	mailer   mail.Sender
	recorder Recorder
}

type Option func(*Handler)

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMailer overrides the default no-op activation sender.
func WithMailer(s mail.Sender) Option {
	return func(h *Handler) {
		if s != nil {
			h.mailer = s
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		if r != nil {
			h.recorder = r
		}
	}
}

func NewHandler(cfg Config, users Users, groups Groups, repo dates.Repository, cache *expansion.Cache, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(cfg.PublicURL) == "" {
		cfg.PublicURL = def.PublicURL
	}
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = def.MailTimeout
	}
	if cache == nil {
		cache = expansion.New(expansion.DefaultCapacity)
	}

	h := &Handler{
		log:      slog.New(slog.DiscardHandler),
		cfg:      cfg,
		users:    users,
		groups:   groups,
		dates:    repo,
		cache:    cache,
		mailer:   mail.NoopSender{},
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("POST /activate/{user_id}", h.handleActivate)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /users/{user_id}", h.handleGetUser)
	mux.HandleFunc("DELETE /users/{user_id}", h.handleRemoveUser)
	mux.HandleFunc("POST /users/{user_id}/password", h.handleChangePassword)
	mux.HandleFunc("POST /users/{user_id}/deactivate", h.handleDeactivate)

	mux.HandleFunc("POST /users/{user_id}/group", h.handleCreateGroup)
	mux.HandleFunc("POST /users/{user_id}/group/join", h.handleJoinGroup)
	mux.HandleFunc("DELETE /users/{user_id}/group", h.handleLeaveGroup)

	mux.HandleFunc("GET /dates/{user_id}", h.handleListDates)
	mux.HandleFunc("POST /dates/{user_id}", h.handleAddDate)
	mux.HandleFunc("GET /dates/{user_id}/{date_id}", h.handleGetDate)
	mux.HandleFunc("PUT /dates/{user_id}/{date_id}", h.handleUpdateDate)
	mux.HandleFunc("DELETE /dates/{user_id}/{date_id}", h.handleRemoveDate)
	mux.HandleFunc("POST /dates/{user_id}/{date_id}/increment", h.handleIncrement)
	mux.HandleFunc("POST /dates/{user_id}/{date_id}/decrement", h.handleDecrement)
	mux.HandleFunc("POST /dates/{user_id}/{date_id}/expand", h.handleExpand)
	mux.HandleFunc("POST /dates/{user_id}/{date_id}/collapse", h.handleCollapse)
}

func pathUser(r *http.Request) string { return strings.TrimSpace(r.PathValue("user_id")) }
func pathDate(r *http.Request) string { return strings.TrimSpace(r.PathValue("date_id")) }
