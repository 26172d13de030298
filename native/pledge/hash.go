package pledge

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const anchorHashHexLength = 64

// ParseAnchorHash normalises and validates an anchor hash expressed as a hex
// string. The returned array always contains the raw 32-byte hash.
func ParseAnchorHash(ref string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return hash, fmt.Errorf("pledge: anchor hash required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != anchorHashHexLength {
		return hash, fmt.Errorf("pledge: anchor hash must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("pledge: decode anchor hash: %w", err)
	}
	copy(hash[:], decoded)
	return hash, nil
}

// AnchorHashFor derives an anchor hash from an off-chain document.
func AnchorHashFor(document []byte) [32]byte {
	return ethcrypto.Keccak256Hash(document)
}
