package auth

import "golang.org/x/crypto/bcrypt"

// Hasher defines the interface for password-grade hashing and verification.
// Both account passwords and recovery codes go through it.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(secret, hash string) bool
}

type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = 14
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	return string(bytes), err
}

func (h *BcryptHasher) Compare(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}
