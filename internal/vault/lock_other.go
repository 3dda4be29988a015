//go:build !unix

package vault

// lockKEK is a no-op on platforms without mlock.
func lockKEK(key []byte) {}
