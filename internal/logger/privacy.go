package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const minSaltLength = 32

var hashSalt = "finmail-unsalted"

// InitHashSalt loads LOG_HASH_SALT. Identifiers logged before this call use a fixed salt.
func InitHashSalt() error {
	salt := os.Getenv("LOG_HASH_SALT")
	if salt == "" {
		return errors.New("LOG_HASH_SALT is required")
	}
	if len(salt) < minSaltLength {
		return fmt.Errorf("LOG_HASH_SALT must be at least %d characters", minSaltLength)
	}
	hashSalt = salt
	return nil
}

// InitHashSaltForTesting sets the salt directly.
func InitHashSaltForTesting(salt string) {
	hashSalt = salt
}

// HashID creates a privacy-preserving hash of an identifier such as a
// message ID, session owner or chat ID.
func HashID(id string) string {
	hash := sha256.Sum256([]byte(id + ":" + hashSalt))
	return hex.EncodeToString(hash[:])[:8]
}

// HashAddress hashes the local part of an e-mail address and keeps the domain.
func HashAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "<empty>"
	}
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return HashID(addr)
	}
	return HashID(addr[:at]) + "@" + addr[at+1:]
}

// SanitizeText redacts free text such as subjects and bodies, keeping length information.
func SanitizeText(text string) string {
	if text == "" {
		return "<empty>"
	}

	runes := []rune(text)
	if len(runes) <= 10 {
		return fmt.Sprintf("<%d chars>", len(runes))
	}

	return fmt.Sprintf("%s...<%d chars>", string(runes[:3]), len(runes))
}
