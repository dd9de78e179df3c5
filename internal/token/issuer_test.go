package token

import (
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !ValidFormat(cred.Raw) {
		t.Errorf("generated token fails format check: %q", cred.Raw)
	}
	if !strings.HasPrefix(cred.Raw, "tk_") {
		t.Errorf("expected tk_ prefix, got %q", cred.Raw)
	}
	if cred.Prefix != cred.Raw[:PrefixLen] {
		t.Errorf("prefix %q does not match raw token head", cred.Prefix)
	}
	if len(cred.Hash) != 64 {
		t.Errorf("expected 64-char hash, got %d", len(cred.Hash))
	}
}

func TestHashDeterministic(t *testing.T) {
	cred, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if Hash(cred.Raw) != cred.Hash {
		t.Error("Hash is not deterministic over the same input")
	}
}

func TestGenerateNoCollisions(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		cred, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[cred.Hash] {
			t.Fatalf("hash collision after %d generations", i)
		}
		seen[cred.Hash] = true
	}
}

func TestValidFormat(t *testing.T) {
	good, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"generated", good.Raw, true},
		{"empty", "", false},
		{"wrong tag", "xk" + good.Raw[2:], false},
		{"short id", "tk_" + strings.Repeat("a", 7) + "_" + strings.Repeat("b", 64), false},
		{"long id", "tk_" + strings.Repeat("a", 9) + "_" + strings.Repeat("b", 64), false},
		{"short secret", "tk_" + strings.Repeat("a", 8) + "_" + strings.Repeat("b", 63), false},
		{"long secret", "tk_" + strings.Repeat("a", 8) + "_" + strings.Repeat("b", 65), false},
		{"uppercase hex", "tk_" + strings.Repeat("A", 8) + "_" + strings.Repeat("b", 64), false},
		{"non-hex", "tk_" + strings.Repeat("z", 8) + "_" + strings.Repeat("b", 64), false},
		{"missing separator", "tk" + strings.Repeat("a", 9) + "_" + strings.Repeat("b", 64), false},
		{"jwt-ish", "eyJhbGciOiJIUzI1NiJ9.payload.sig", false},
	}

	for _, tc := range cases {
		if got := ValidFormat(tc.in); got != tc.want {
			t.Errorf("%s: ValidFormat(%q) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestHasTag(t *testing.T) {
	if !HasTag("tk_deadbeef_rest") {
		t.Error("expected HasTag true for tk_ string")
	}
	if HasTag("eyJhbGciOiJIUzI1NiJ9.x.y") {
		t.Error("expected HasTag false for JWT-shaped string")
	}
	if HasTag("tk") {
		t.Error("expected HasTag false for bare tag")
	}
}
