package gatehouse_test

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	gh "github.com/morrigan/gatehouse"
)

func TestHashVerifyRoundtrip(t *testing.T) {
	passwords := []string{"password123", "correct horse battery staple", "p@ss w0rd!", "日本語パスワード"}

	for _, p := range passwords {
		cred, err := gh.HashPassword(p)
		if err != nil {
			t.Fatalf("HashPassword(%q) failed: %v", p, err)
		}
		if !gh.LooksHashed(cred) {
			t.Errorf("HashPassword(%q) produced a credential not classified as hashed: %q", p, cred)
		}
		if !gh.VerifyPassword(cred, p) {
			t.Errorf("VerifyPassword rejected correct password %q", p)
		}
		if gh.VerifyPassword(cred, p+"x") {
			t.Errorf("VerifyPassword accepted wrong password for %q", p)
		}
	}
}

func TestHashPasswordFreshSalt(t *testing.T) {
	a, err := gh.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	b, err := gh.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password share a salt")
	}
}

func TestClassifyCredential(t *testing.T) {
	bcryptHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	canonical, err := gh.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		stored string
		want   gh.CredentialKind
	}{
		{"bcrypt", string(bcryptHash), gh.CredentialAdaptiveHash},
		{"canonical", canonical, gh.CredentialSaltedDigest},
		{"plaintext", "hunter2", gh.CredentialPlaintext},
		{"plaintext with colon", "pass:word", gh.CredentialPlaintext},
		{"long plaintext without colon", strings.Repeat("a", 60), gh.CredentialPlaintext},
		{"long string with two colons", strings.Repeat("a", 30) + ":" + strings.Repeat("b", 30) + ":c", gh.CredentialPlaintext},
		{"empty", "", gh.CredentialPlaintext},
		{"dollar prefix without separators", "$2abc", gh.CredentialPlaintext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gh.ClassifyCredential(tt.stored); got != tt.want {
				t.Errorf("ClassifyCredential(%q) = %v, want %v", tt.stored, got, tt.want)
			}
		})
	}
}

func TestVerifyPasswordAcrossFormats(t *testing.T) {
	bcryptHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		stored   string
		provided string
		want     bool
	}{
		{"bcrypt match", string(bcryptHash), "password123", true},
		{"bcrypt mismatch", string(bcryptHash), "password124", false},
		{"plaintext match", "hunter2", "hunter2", true},
		{"plaintext mismatch", "hunter2", "hunter3", false},
		{"empty stored", "", "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gh.VerifyPassword(tt.stored, tt.provided); got != tt.want {
				t.Errorf("VerifyPassword(%q, %q) = %v, want %v", tt.stored, tt.provided, got, tt.want)
			}
		})
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	if err := gh.ValidatePasswordStrength("short"); err == nil {
		t.Error("expected short password to be rejected")
	}
	if err := gh.ValidatePasswordStrength("12345678"); err != nil {
		t.Errorf("expected 8-char password to pass, got: %v", err)
	}
}
