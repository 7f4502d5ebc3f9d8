// Package password implements Argon2id credential hashing for daters.
//
// Hashes are stored as PHC strings:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// Stored hashes are treated as untrusted input when verifying. Parameters far
// above the configured cost are refused so a tampered row cannot pin a CPU.
//
// The package is synchronous and CPU bound; callers on a request path should
// go through identity.Hasher, which runs the work on a dedicated pool.
package password
