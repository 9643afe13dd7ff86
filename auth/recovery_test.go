package auth

import (
	"context"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestVault(t *testing.T) (*RecoveryCodeVault, *mockStore) {
	t.Helper()
	store := newMockStore()
	return NewRecoveryCodeVault(store, NewBcryptHasher(bcrypt.MinCost)), store
}

func TestRecoveryGenerate(t *testing.T) {
	vault, _ := newTestVault(t)

	codes, err := vault.Generate(DefaultRecoveryCodeCount)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(codes) != DefaultRecoveryCodeCount {
		t.Fatalf("got %d codes, want %d", len(codes), DefaultRecoveryCodeCount)
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		if len(code) != recoveryCodeLength {
			t.Errorf("code %q has length %d, want %d", code, len(code), recoveryCodeLength)
		}
		for _, r := range code {
			if !strings.ContainsRune(recoveryCodeCharset, r) {
				t.Errorf("code %q contains %q outside the charset", code, r)
			}
		}
		if seen[code] {
			t.Errorf("duplicate code %q in one batch", code)
		}
		seen[code] = true
	}
}

func TestRecoveryConsumeIsSingleUse(t *testing.T) {
	vault, store := newTestVault(t)
	ctx := context.Background()

	codes, _ := vault.Generate(DefaultRecoveryCodeCount)
	if err := vault.Persist(ctx, "acct-1", codes); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	ok, err := vault.Consume(ctx, "acct-1", codes[2])
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v, want success", ok, err)
	}
	remaining, _ := store.ListRecoveryCodes(ctx, "acct-1")
	if len(remaining) != DefaultRecoveryCodeCount-1 {
		t.Errorf("stored codes = %d, want %d", len(remaining), DefaultRecoveryCodeCount-1)
	}

	ok, err = vault.Consume(ctx, "acct-1", codes[2])
	if err != nil {
		t.Fatalf("second consume errored: %v", err)
	}
	if ok {
		t.Error("a spent code must not be accepted again")
	}
	remaining, _ = store.ListRecoveryCodes(ctx, "acct-1")
	if len(remaining) != DefaultRecoveryCodeCount-1 {
		t.Error("a rejected submission must not mutate the stored set")
	}
}

func TestRecoveryConsumeWrongCode(t *testing.T) {
	vault, store := newTestVault(t)
	ctx := context.Background()

	codes, _ := vault.Generate(4)
	vault.Persist(ctx, "acct-1", codes)

	ok, err := vault.Consume(ctx, "acct-1", "NOTACODE")
	if err != nil {
		t.Fatalf("consume errored: %v", err)
	}
	if ok {
		t.Error("unknown code accepted")
	}
	remaining, _ := store.ListRecoveryCodes(ctx, "acct-1")
	if len(remaining) != 4 {
		t.Errorf("stored codes = %d, want 4", len(remaining))
	}
}

func TestRecoveryRegenerationInvalidatesOldCodes(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	old, _ := vault.Generate(4)
	vault.Persist(ctx, "acct-1", old)
	fresh, _ := vault.Generate(4)
	vault.Persist(ctx, "acct-1", fresh)

	for _, code := range old {
		if ok, _ := vault.Consume(ctx, "acct-1", code); ok {
			t.Errorf("old code %q still accepted after regeneration", code)
		}
	}
	if ok, _ := vault.Consume(ctx, "acct-1", fresh[0]); !ok {
		t.Error("fresh code rejected")
	}
}

func TestRecoveryAccountsAreIndependent(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	codesA, _ := vault.Generate(2)
	codesB, _ := vault.Generate(2)
	vault.Persist(ctx, "acct-a", codesA)
	vault.Persist(ctx, "acct-b", codesB)

	if ok, _ := vault.Consume(ctx, "acct-b", codesA[0]); ok {
		t.Error("a code must only work for its own account")
	}
	if ok, _ := vault.Consume(ctx, "acct-a", codesA[0]); !ok {
		t.Error("code rejected for its own account")
	}
}

func TestRecoveryConcurrentConsumeSameCode(t *testing.T) {
	vault, store := newTestVault(t)
	ctx := context.Background()

	codes, _ := vault.Generate(DefaultRecoveryCodeCount)
	vault.Persist(ctx, "acct-1", codes)

	const racers = 8
	results := make(chan bool, racers)
	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			ok, err := vault.Consume(ctx, "acct-1", codes[0])
			if err != nil {
				t.Errorf("consume errored: %v", err)
			}
			results <- ok
		}()
	}
	start.Done()
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	remaining, _ := store.ListRecoveryCodes(ctx, "acct-1")
	if len(remaining) != DefaultRecoveryCodeCount-1 {
		t.Errorf("stored codes = %d, want %d", len(remaining), DefaultRecoveryCodeCount-1)
	}
}
