package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey
// expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted plaintexts. MaxLength doubles as the anti-DoS cap.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// Limits enforced by ValidateParams.
const (
	minMemoryKiB  = 8
	maxMemoryKiB  = 1024 * 1024
	maxIterations = 20
	minSaltLen    = 8
	maxSaltLen    = 64
	minKeyLen     = 16
	maxKeyLen     = 128
)

// DefaultConfig follows the second recommended option of RFC 9106
// (64 MiB, t=3) with parallelism clamped to [1..4]. Any non-empty password
// is accepted by default; DATERS_PASSWORD_MIN_LEN raises the floor.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	lanes = max(lanes, 1)
	lanes = min(lanes, 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 256,
		},
	}
}

// ValidateParams rejects parameter sets that argon2.IDKey would either panic
// on or that make no cryptographic sense.
func (c Config) ValidateParams() error {
	p := c.Params
	switch {
	case p.MemoryKiB < minMemoryKiB || p.MemoryKiB > maxMemoryKiB:
		return fmt.Errorf("%w: memory_kib %d out of range [%d..%d]", ErrInvalidParams, p.MemoryKiB, minMemoryKiB, maxMemoryKiB)
	case p.Iterations < 1 || p.Iterations > maxIterations:
		return fmt.Errorf("%w: iterations %d out of range [1..%d]", ErrInvalidParams, p.Iterations, maxIterations)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidParams)
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("%w: memory_kib must be at least 8*parallelism", ErrInvalidParams)
	case p.SaltLength < minSaltLen || p.SaltLength > maxSaltLen:
		return fmt.Errorf("%w: salt_len %d out of range [%d..%d]", ErrInvalidParams, p.SaltLength, minSaltLen, maxSaltLen)
	case p.KeyLength < minKeyLen || p.KeyLength > maxKeyLen:
		return fmt.Errorf("%w: key_len %d out of range [%d..%d]", ErrInvalidParams, p.KeyLength, minKeyLen, maxKeyLen)
	}
	if c.Policy.MinLength < 1 || c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: password policy min_len(%d) max_len(%d)", ErrInvalidParams, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}

// FromEnv overlays DATERS_* variables on DefaultConfig:
//
//	DATERS_PASSWORD_MIN_LEN, DATERS_PASSWORD_MAX_LEN,
//	DATERS_PASSWORD_REJECT_VERY_WEAK,
//	DATERS_ARGON2_MEMORY_KIB, DATERS_ARGON2_ITERATIONS,
//	DATERS_ARGON2_PARALLELISM, DATERS_ARGON2_SALT_LEN, DATERS_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"DATERS_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"DATERS_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := parseInt(v, e.min, e.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v, ok := os.LookupEnv("DATERS_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("DATERS_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"DATERS_ARGON2_MEMORY_KIB", minMemoryKiB, maxMemoryKiB, &cfg.Params.MemoryKiB},
		{"DATERS_ARGON2_ITERATIONS", 1, maxIterations, &cfg.Params.Iterations},
		{"DATERS_ARGON2_SALT_LEN", minSaltLen, maxSaltLen, &cfg.Params.SaltLength},
		{"DATERS_ARGON2_KEY_LEN", minKeyLen, maxKeyLen, &cfg.Params.KeyLength},
	}
	for _, e := range u32s {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		u, err := parseUint32(v, e.min, e.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = u
	}

	if v, ok := os.LookupEnv("DATERS_ARGON2_PARALLELISM"); ok {
		u, err := parseUint32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("DATERS_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded by parseUint32.
	}

	if err := cfg.ValidateParams(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseInt(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}

func parseUint32(s string, lo, hi uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < lo || u > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return u, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean")
}
