// Package identity implements the daters user lifecycle.
//
// A user moves through a fixed set of states:
//
//	Unregistered -> Inactive -> NoGroupUser <-> GroupUser
//
// Each state is a distinct Go type implementing the sealed State interface,
// so consumers branch with an exhaustive type switch instead of inspecting
// flags. Persistence goes through Store (memory and Postgres backends with
// identical semantics). Password work goes through Hasher, which keeps
// Argon2id off request goroutines.
package identity
