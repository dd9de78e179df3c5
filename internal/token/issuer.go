// Package token generates and validates API token credentials. A token has
// the external shape tk_<8 hex>_<64 hex>: a short random identifier that is
// safe to display, and a long random secret. Only a SHA-256 digest of the
// full string is ever persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Tag is the fixed leading marker of every API token.
const Tag = "tk"

const (
	idBytes     = 4  // 8 hex chars
	secretBytes = 32 // 64 hex chars

	idHexLen     = idBytes * 2
	secretHexLen = secretBytes * 2

	// rawLen is the total length of a well-formed token string:
	// "tk" + "_" + 8 + "_" + 64.
	rawLen = len(Tag) + 1 + idHexLen + 1 + secretHexLen

	// PrefixLen is the length of the displayable prefix: "tk_" + 8 hex chars.
	PrefixLen = len(Tag) + 1 + idHexLen
)

// Credential is the result of generating a new API token. Raw is returned
// to the caller exactly once; only Hash and Prefix are persisted.
type Credential struct {
	Raw    string // full token, shown once
	Hash   string // SHA-256 hex digest of Raw
	Prefix string // tk_ + identifier, safe to display
}

// Generate draws a new credential from crypto/rand. A failing randomness
// source is not a recoverable runtime condition, so errors here should be
// treated as fatal by the caller.
func Generate() (Credential, error) {
	id := make([]byte, idBytes)
	if _, err := rand.Read(id); err != nil {
		return Credential{}, fmt.Errorf("generate token id: %w", err)
	}
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return Credential{}, fmt.Errorf("generate token secret: %w", err)
	}

	raw := Tag + "_" + hex.EncodeToString(id) + "_" + hex.EncodeToString(secret)
	return Credential{
		Raw:    raw,
		Hash:   Hash(raw),
		Prefix: raw[:PrefixLen],
	}, nil
}

// Hash returns the hex-encoded SHA-256 digest of a raw token string.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ValidFormat reports whether s has the exact shape of an API token. It is
// a cheap reject path for malformed input, run before any database lookup.
func ValidFormat(s string) bool {
	if len(s) != rawLen {
		return false
	}
	if s[:len(Tag)] != Tag || s[len(Tag)] != '_' || s[PrefixLen] != '_' {
		return false
	}
	return isLowerHex(s[len(Tag)+1:PrefixLen]) && isLowerHex(s[PrefixLen+1:])
}

// HasTag reports whether s is shaped like an API token rather than a session
// token, without fully validating it. Used to dispatch bearer credentials.
func HasTag(s string) bool {
	return len(s) > len(Tag)+1 && s[:len(Tag)+1] == Tag+"_"
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
