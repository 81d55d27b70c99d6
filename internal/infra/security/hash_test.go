package security

import (
	"strings"
	"testing"

	"github.com/arklim/authcore/internal/core/port"
)

var testArgon2Params = port.Argon2Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestArgon2BackupHasherIsDeterministicPerSalt(t *testing.T) {
	hasher, err := NewArgon2BackupHasher(testArgon2Params)
	if err != nil {
		t.Fatalf("NewArgon2BackupHasher returned error: %v", err)
	}

	salt, err := hasher.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt returned error: %v", err)
	}
	if len(salt) != int(testArgon2Params.SaltLength) {
		t.Fatalf("expected %d byte salt, got %d", testArgon2Params.SaltLength, len(salt))
	}

	first := hasher.Hash("ABCDE-FGHJK", salt)
	if first == "" {
		t.Fatal("Hash returned empty digest")
	}
	if again := hasher.Hash("abcde fghjk", salt); again != first {
		t.Fatalf("normalized code should hash identically: %q != %q", again, first)
	}
	if other := hasher.Hash("ABCDE-FGHJM", salt); other == first {
		t.Fatal("different codes produced the same digest")
	}

	otherSalt, err := hasher.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt returned error: %v", err)
	}
	if salted := hasher.Hash("ABCDE-FGHJK", otherSalt); salted == first {
		t.Fatal("different salts produced the same digest")
	}
}

func TestNewArgon2BackupHasherRejectsWeakParams(t *testing.T) {
	cases := map[string]port.Argon2Params{
		"memory":      {Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		"iterations":  {Memory: 8192, Iterations: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		"parallelism": {Memory: 8192, Iterations: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		"salt":        {Memory: 8192, Iterations: 1, Parallelism: 1, SaltLength: 4, KeyLength: 32},
		"key":         {Memory: 8192, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}

	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewArgon2BackupHasher(params); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	if err != nil {
		t.Fatalf("GenerateBackupCodes returned error: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}

	seen := make(map[string]struct{})
	for _, code := range codes {
		if len(code) != 11 || code[5] != '-' {
			t.Fatalf("unexpected code shape: %q", code)
		}
		for _, r := range strings.ReplaceAll(code, "-", "") {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}

	if _, err := GenerateBackupCodes(0); err == nil {
		t.Fatal("expected error for zero count")
	}
}

func TestHashTokenIsStableHex(t *testing.T) {
	a := HashToken("secret")
	if a != HashToken("secret") {
		t.Fatal("HashToken is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashToken("secret2") {
		t.Fatal("different inputs produced the same hash")
	}
}
