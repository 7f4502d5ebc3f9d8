package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"daters/cmd/security/password"
	"daters/cmd/security/secret"
)

var (
	// ErrAuthentication means the plaintext does not match the stored hash.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMalformedHash means the stored hash cannot be parsed. This is a data
	// integrity problem, not a wrong password.
	ErrMalformedHash = errors.New("malformed password hash")

	ErrHasherClosed = errors.New("hasher closed")
	ErrHashTimeout  = errors.New("timed out waiting for password hasher")
)

// HasherConfig sizes the hashing pool.
type HasherConfig struct {
	Password    password.Config
	Workers     int
	QueueSize   int
	WaitTimeout time.Duration
}

func DefaultHasherConfig() HasherConfig {
	workers := min(max(runtime.NumCPU(), 1), 4)
	return HasherConfig{
		Password:    password.DefaultConfig(),
		Workers:     workers,
		QueueSize:   64,
		WaitTimeout: 30 * time.Second,
	}
}

// HasherConfigFromEnv reads the password config plus DATERS_HASH_WORKERS,
// DATERS_HASH_QUEUE and DATERS_HASH_WAIT_TIMEOUT (Go duration, 0 disables).
func HasherConfigFromEnv() (HasherConfig, error) {
	cfg := DefaultHasherConfig()

	pw, err := password.FromEnv()
	if err != nil {
		return HasherConfig{}, err
	}
	cfg.Password = pw

	if v := strings.TrimSpace(os.Getenv("DATERS_HASH_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 256 {
			return HasherConfig{}, fmt.Errorf("DATERS_HASH_WORKERS: expected integer in [1..256]")
		}
		cfg.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv("DATERS_HASH_QUEUE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 65536 {
			return HasherConfig{}, fmt.Errorf("DATERS_HASH_QUEUE: expected integer in [0..65536]")
		}
		cfg.QueueSize = n
	}
	if v := strings.TrimSpace(os.Getenv("DATERS_HASH_WAIT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return HasherConfig{}, fmt.Errorf("DATERS_HASH_WAIT_TIMEOUT: expected non-negative duration")
		}
		cfg.WaitTimeout = d
	}
	return cfg, nil
}

// Hasher runs Argon2id on a fixed pool of worker goroutines fed by a bounded
// queue. Request goroutines only enqueue and wait.
//
// A dispatched job always runs to completion. Callers stop waiting when their
// context ends or WaitTimeout elapses; the result is then discarded.
type Hasher struct {
	pw      password.Config
	timeout time.Duration

	jobs  chan func()
	group *errgroup.Group
	depth atomic.Int64

	mu     sync.RWMutex
	closed bool

	dummy string
}

// NewHasher validates cfg and starts the workers. An invalid configuration is
// a startup error; it never surfaces per request.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if err := cfg.Password.ValidateParams(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("identity: hasher needs at least one worker")
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("identity: negative hasher queue size")
	}

	h := &Hasher{
		pw:      cfg.Password,
		timeout: cfg.WaitTimeout,
		jobs:    make(chan func(), cfg.QueueSize),
		group:   new(errgroup.Group),
	}

	dummy, err := h.pw.Hash(dummyPlaintext(h.pw.Policy))
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}
	h.dummy = dummy

	for range cfg.Workers {
		h.group.Go(h.work)
	}
	return h, nil
}

func (h *Hasher) work() error {
	for job := range h.jobs {
		h.depth.Add(-1)
		job()
	}
	return nil
}

// Close stops accepting jobs, finishes queued ones and waits for workers.
func (h *Hasher) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.jobs)
	h.mu.Unlock()

	return h.group.Wait()
}

// QueueDepth is the number of jobs waiting for a worker.
func (h *Hasher) QueueDepth() int { return int(h.depth.Load()) }

// Hash returns the PHC encoding of pw. Policy violations come back as the
// password package errors (password.ErrPasswordTooShort, ...).
func (h *Hasher) Hash(ctx context.Context, pw secret.String) (string, error) {
	type result struct {
		hash string
		err  error
	}
	plain := pw.Expose()
	out := make(chan result, 1)

	err := h.submit(ctx, func() {
		enc, err := h.pw.Hash(plain)
		out <- result{enc, err}
	})
	if err != nil {
		return "", err
	}

	res, err := await(ctx, h.timeout, out)
	if err != nil {
		return "", err
	}
	return res.hash, res.err
}

// Verify checks pw against encoded. It returns nil on a match,
// ErrAuthentication on a mismatch and ErrMalformedHash (wrapping the parse
// error) for a corrupted hash.
func (h *Hasher) Verify(ctx context.Context, pw secret.String, encoded string) error {
	plain := pw.Expose()
	out := make(chan error, 1)

	err := h.submit(ctx, func() {
		ok, err := h.pw.Verify(encoded, plain)
		switch {
		case err != nil:
			out <- fmt.Errorf("%w: %w", ErrMalformedHash, err)
		case !ok:
			out <- ErrAuthentication
		default:
			out <- nil
		}
	})
	if err != nil {
		return err
	}

	res, err := await(ctx, h.timeout, out)
	if err != nil {
		return err
	}
	return res
}

// VerifyDummy spends the same work as Verify against a throwaway hash. It is
// used on lookup misses so unknown emails cost as much as wrong passwords.
func (h *Hasher) VerifyDummy(ctx context.Context, pw secret.String) {
	_ = h.Verify(ctx, pw, h.dummy)
}

// NeedsRehash reports whether encoded was made with outdated parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	return h.pw.NeedsRehash(encoded)
}

func (h *Hasher) submit(ctx context.Context, job func()) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHasherClosed
	}

	h.depth.Add(1)
	select {
	case h.jobs <- job:
		return nil
	case <-ctx.Done():
		h.depth.Add(-1)
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, timeout time.Duration, ch <-chan T) (T, error) {
	var zero T

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-expired:
		return zero, ErrHashTimeout
	}
}

// dummyPlaintext returns a random password that satisfies policy.
func dummyPlaintext(p password.Policy) string {
	n := max(p.MinLength, 24)
	if p.MaxLength > 0 {
		n = min(n, p.MaxLength)
	}
	buf := make([]byte, (n+1)/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}
