package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"type":       {},
	"block":      {},
	"method":     {},
	"path":       {},
	"status":     {},
	"request_id": {},
	"caller":     {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// Fingerprint returns a short keccak digest of value, enough to tell two
// rejected credentials apart without revealing either.
func Fingerprint(value string) string {
	sum := ethcrypto.Keccak256([]byte(value))
	return hex.EncodeToString(sum[:4])
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. Redacted values carry their fingerprint.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue+" "+Fingerprint(value))
}
