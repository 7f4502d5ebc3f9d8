package password

import (
	"errors"
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"DATERS_PASSWORD_MIN_LEN",
		"DATERS_PASSWORD_MAX_LEN",
		"DATERS_PASSWORD_REJECT_VERY_WEAK",
		"DATERS_ARGON2_MEMORY_KIB",
		"DATERS_ARGON2_ITERATIONS",
		"DATERS_ARGON2_PARALLELISM",
		"DATERS_ARGON2_SALT_LEN",
		"DATERS_ARGON2_KEY_LEN",
	} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("DATERS_PASSWORD_MIN_LEN", "10")
	t.Setenv("DATERS_PASSWORD_MAX_LEN", "200")
	t.Setenv("DATERS_PASSWORD_REJECT_VERY_WEAK", "yes")
	t.Setenv("DATERS_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("DATERS_ARGON2_ITERATIONS", "4")
	t.Setenv("DATERS_ARGON2_PARALLELISM", "2")
	t.Setenv("DATERS_ARGON2_SALT_LEN", "24")
	t.Setenv("DATERS_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	want := Config{
		Params: Argon2idParams{MemoryKiB: 32768, Iterations: 4, Parallelism: 2, SaltLength: 24, KeyLength: 32},
		Policy: Policy{MinLength: 10, MaxLength: 200, RejectVeryWeak: true},
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		key, val string
	}{
		{"DATERS_PASSWORD_MIN_LEN", "abc"},
		{"DATERS_ARGON2_ITERATIONS", "0"},
		{"DATERS_ARGON2_PARALLELISM", "300"},
		{"DATERS_PASSWORD_REJECT_VERY_WEAK", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestFromEnv_MinAboveMax(t *testing.T) {
	t.Setenv("DATERS_PASSWORD_MIN_LEN", "20")
	t.Setenv("DATERS_PASSWORD_MAX_LEN", "10")

	_, err := FromEnv()
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestValidateParams(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().ValidateParams(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}

	mutate := []func(*Config){
		func(c *Config) { c.Params.MemoryKiB = 0 },
		func(c *Config) { c.Params.Iterations = 0 },
		func(c *Config) { c.Params.Parallelism = 0 },
		func(c *Config) { c.Params.MemoryKiB = 8; c.Params.Parallelism = 4 },
		func(c *Config) { c.Params.SaltLength = 4 },
		func(c *Config) { c.Params.KeyLength = 8 },
		func(c *Config) { c.Policy.MinLength = 0 },
	}
	for i, m := range mutate {
		cfg := DefaultConfig()
		m(&cfg)
		if err := cfg.ValidateParams(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("case %d: expected ErrInvalidParams, got %v", i, err)
		}
	}
}
