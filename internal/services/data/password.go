package data

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PasswordEncoder hashes a plaintext password, returning the hash and the
// salt that produced it. The production hasher is injected by the caller;
// the default stands in for it.
type PasswordEncoder func(password string) (hash, salt string, err error)

// DefaultPasswordEncoder salts with 16 random bytes and hashes with
// SHA-256.
func DefaultPasswordEncoder(password string) (string, string, error) {
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate password salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:]), salt, nil
}

// VerifyPassword reports whether password matches the stored hash/salt
// pair produced by DefaultPasswordEncoder.
func VerifyPassword(password, hash, salt string) bool {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:]) == hash
}
