//go:build unix

package vault

import "golang.org/x/sys/unix"

// lockKEK best-effort locks the key-encryption key's backing memory so it
// is never paged to disk. Failure is not fatal: it is a hardening nicety,
// not a correctness requirement.
func lockKEK(key []byte) {
	_ = unix.Mlock(key)
}
