// Package vault stores adaptor secrets encrypted at rest. It is the sole
// owner of decrypted secret material: callers get a scoped handle that
// zeroizes on release, never a bare byte slice they could leak by holding
// too long.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"

	"github.com/catalogfi/stealthswapd/internal/crypto"
)

var (
	ErrNotFound      = errors.New("vault: secret not found")
	ErrCorrupted     = errors.New("vault: ciphertext corrupted")
	ErrKeyUnavailable = errors.New("vault: key-encryption key unavailable")
)

// adaptorSecretRow is the gorm model backing the adaptor_secrets table.
// It never stores plaintext; Nonce and Ciphertext are the AEAD envelope.
type adaptorSecretRow struct {
	SwapID     string `gorm:"primaryKey;column:swap_id"`
	Nonce      []byte
	Ciphertext []byte
	KeyVersion int
}

func (adaptorSecretRow) TableName() string { return "adaptor_secrets" }

// ScopedPlaintext hands out decrypted secret material under a guard that
// zeroizes the buffer once Release is called. Callers must always defer
// Release immediately after obtaining one.
type ScopedPlaintext struct {
	secret crypto.Secret
	zeroed bool
}

// Secret returns the plaintext secret. The returned value is a copy; it is
// still the caller's responsibility not to retain it past Release.
func (p *ScopedPlaintext) Secret() crypto.Secret {
	return p.secret
}

// Release zeroizes the held plaintext. Safe to call more than once.
func (p *ScopedPlaintext) Release() {
	if p.zeroed {
		return
	}
	crypto.Wipe(&p.secret)
	p.zeroed = true
}

// Vault is the contract the swap engine uses to hold adaptor secrets
// between the moment the maker must start holding s and the terminal
// transition that erases it.
type Vault interface {
	Put(swapID string, s crypto.Secret) error
	Get(swapID string) (*ScopedPlaintext, error)
	Erase(swapID string) error
}

type vault struct {
	db  *gorm.DB
	kek [chacha20poly1305.KeySize]byte
	mu  sync.Mutex // serializes access per the store's single-writer policy
}

// New derives the key-encryption key from passphrase with argon2id and
// opens the adaptor_secrets table on db. The KEK is held for the process
// lifetime; New is meant to be called exactly once at startup.
func New(db *gorm.DB, passphrase string) (Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault: %w: empty passphrase", ErrKeyUnavailable)
	}
	if err := db.AutoMigrate(&adaptorSecretRow{}); err != nil {
		return nil, fmt.Errorf("vault: migrate: %w", err)
	}

	salt := []byte("stealthswapd-vault-kek-v1")
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)

	v := &vault{db: db}
	copy(v.kek[:], key)
	lockKEK(v.kek[:])
	return v, nil
}

func (v *vault) Put(swapID string, s crypto.Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	aead, err := chacha20poly1305.New(v.kek[:])
	if err != nil {
		return fmt.Errorf("vault: %w: %v", ErrKeyUnavailable, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, s[:], []byte(swapID))

	row := adaptorSecretRow{
		SwapID:     swapID,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		KeyVersion: 1,
	}
	return v.db.Save(&row).Error
}

func (v *vault) Get(swapID string) (*ScopedPlaintext, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var row adaptorSecretRow
	if err := v.db.Where("swap_id = ?", swapID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault: lookup: %w", err)
	}

	aead, err := chacha20poly1305.New(v.kek[:])
	if err != nil {
		return nil, fmt.Errorf("vault: %w: %v", ErrKeyUnavailable, err)
	}

	plaintext, err := aead.Open(nil, row.Nonce, row.Ciphertext, []byte(swapID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(plaintext) != crypto.SecretSize {
		return nil, fmt.Errorf("%w: unexpected plaintext length %d", ErrCorrupted, len(plaintext))
	}

	var s crypto.Secret
	copy(s[:], plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}
	return &ScopedPlaintext{secret: s}, nil
}

func (v *vault) Erase(swapID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.db.Where("swap_id = ?", swapID).Delete(&adaptorSecretRow{}).Error
}

// hexID is a convenience for callers that carry swap ids as [32]byte.
func hexID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}
