package app

import (
	"fmt"

	"daters/cmd/security/password"
)

// Floor applied when RequireStrongHash is set: RFC 9106 second recommended
// option (64 MiB, t=3).
const (
	strongMinMemoryKiB  = 64 * 1024
	strongMinIterations = 3
	strongMinPassword   = 8
)

// ValidateSecurityConfig enforces the daters security policy at startup.
// Startup fails instead of falling back to cheaper hashing in production.
func ValidateSecurityConfig(cfg Config, pw password.Config) error {
	if err := pw.ValidateParams(); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}
	if !cfg.RequireStrongHash {
		return nil
	}

	p := pw.Params
	if p.MemoryKiB < strongMinMemoryKiB {
		return fmt.Errorf("security policy: DATERS_REQUIRE_STRONG_HASH=true but DATERS_ARGON2_MEMORY_KIB=%d (min %d)", p.MemoryKiB, strongMinMemoryKiB)
	}
	if p.Iterations < strongMinIterations {
		return fmt.Errorf("security policy: DATERS_REQUIRE_STRONG_HASH=true but DATERS_ARGON2_ITERATIONS=%d (min %d)", p.Iterations, strongMinIterations)
	}
	if pw.Policy.MinLength < strongMinPassword {
		return fmt.Errorf("security policy: DATERS_REQUIRE_STRONG_HASH=true but DATERS_PASSWORD_MIN_LEN=%d (min %d)", pw.Policy.MinLength, strongMinPassword)
	}
	return nil
}
