package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/worklane/worklane/identity"
)

const (
	// DefaultRecoveryCodeCount is how many backup codes a setup issues.
	DefaultRecoveryCodeCount = 8

	recoveryCodeLength  = 8
	recoveryCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// RecoveryCodeStorage persists hashed recovery codes.
type RecoveryCodeStorage interface {
	// ReplaceRecoveryCodes atomically replaces the account's full code
	// list with the given ordered hashes.
	ReplaceRecoveryCodes(ctx context.Context, accountID string, hashes []string) error

	// ListRecoveryCodes returns the account's codes ordered by position.
	ListRecoveryCodes(ctx context.Context, accountID string) ([]identity.RecoveryCode, error)

	// DeleteRecoveryCode removes exactly one code row.
	DeleteRecoveryCode(ctx context.Context, id string) error
}

// RecoveryCodeVault generates, persists, and consumes single-use backup
// codes. Plaintext codes exist only in the return value of Generate; only
// password-grade hashes are ever stored or compared.
type RecoveryCodeVault struct {
	store  RecoveryCodeStorage
	hasher Hasher

	// mu guards locks; each account gets its own mutex so that
	// check-and-remove is serialized per account and two concurrent
	// submissions of the same code cannot both succeed.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRecoveryCodeVault(store RecoveryCodeStorage, hasher Hasher) *RecoveryCodeVault {
	return &RecoveryCodeVault{
		store:  store,
		hasher: hasher,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Generate produces count fresh codes: fixed-width, uppercase alphanumeric,
// easy to transcribe from a printout. The caller sees the plaintext exactly
// once.
func (v *RecoveryCodeVault) Generate(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultRecoveryCodeCount
	}

	codes := make([]string, count)
	max := big.NewInt(int64(len(recoveryCodeCharset)))
	for i := range codes {
		buf := make([]byte, recoveryCodeLength)
		for j := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("recovery: code generation failed: %w", err)
			}
			buf[j] = recoveryCodeCharset[n.Int64()]
		}
		codes[i] = string(buf)
	}
	return codes, nil
}

// Persist hashes each code independently and replaces the account's stored
// list. Any previously issued codes become invalid in the same operation.
func (v *RecoveryCodeVault) Persist(ctx context.Context, accountID string, codes []string) error {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		h, err := v.hasher.Hash(code)
		if err != nil {
			return fmt.Errorf("recovery: hashing failed: %w", err)
		}
		hashes[i] = h
	}
	return v.store.ReplaceRecoveryCodes(ctx, accountID, hashes)
}

// Consume checks the submitted code against the account's stored hashes and
// removes the first match so it cannot be reused. A miss changes nothing.
func (v *RecoveryCodeVault) Consume(ctx context.Context, accountID, submitted string) (bool, error) {
	lock := v.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := v.store.ListRecoveryCodes(ctx, accountID)
	if err != nil {
		return false, err
	}

	// Linear scan is fine at this list size; keep it sequential so the
	// removal below cannot race a parallel comparison.
	for _, rc := range stored {
		if v.hasher.Compare(submitted, rc.Hash) {
			if err := v.store.DeleteRecoveryCode(ctx, rc.ID); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Clear removes all codes for the account.
func (v *RecoveryCodeVault) Clear(ctx context.Context, accountID string) error {
	lock := v.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	return v.store.ReplaceRecoveryCodes(ctx, accountID, nil)
}

func (v *RecoveryCodeVault) accountLock(accountID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[accountID] = lock
	}
	return lock
}
