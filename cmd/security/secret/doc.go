// Package secret provides a string wrapper for sensitive values such as
// plaintext passwords.
//
// A String never renders its contents through fmt, slog or encoding/json.
// The plaintext is only reachable through Expose and Bytes, which makes every
// use of the raw value visible at the call site.
package secret
