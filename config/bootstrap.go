package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"anchorledger/crypto"
	"anchorledger/native/pledge"
)

// Bootstrap lists the anchors the administrator registers on first start and,
// for development networks, the opening vault balances.
type Bootstrap struct {
	Anchors  []BootstrapAnchor  `yaml:"anchors"`
	Balances []BootstrapBalance `yaml:"balances"`
}

// BootstrapAnchor names an anchor either by its hash or by the document the
// hash is derived from.
type BootstrapAnchor struct {
	Hash     string `yaml:"hash"`
	Document string `yaml:"document"`
	Label    string `yaml:"label"`
	Sealed   bool   `yaml:"sealed"`
}

// BootstrapBalance credits an account in the development vault.
type BootstrapBalance struct {
	Address   string `yaml:"address"`
	AmountWei string `yaml:"amount_wei"`
}

// LoadBootstrap reads and validates the YAML bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bootstrap path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bootstrap: %w", err)
	}
	defer file.Close()

	var b Bootstrap
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode bootstrap: %w", err)
	}
	b.normalize()
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bootstrap) normalize() {
	for i := range b.Anchors {
		b.Anchors[i].Hash = strings.TrimSpace(b.Anchors[i].Hash)
	}
	for i := range b.Balances {
		b.Balances[i].Address = strings.TrimSpace(b.Balances[i].Address)
		b.Balances[i].AmountWei = strings.TrimSpace(b.Balances[i].AmountWei)
	}
}

func (b *Bootstrap) validate() error {
	seen := make(map[[32]byte]int, len(b.Anchors))
	for i, anchor := range b.Anchors {
		hash, err := anchor.AnchorHash()
		if err != nil {
			return fmt.Errorf("anchors[%d]: %w", i, err)
		}
		if prev, ok := seen[hash]; ok {
			return fmt.Errorf("anchors[%d]: duplicates anchors[%d]", i, prev)
		}
		seen[hash] = i
	}
	for i, balance := range b.Balances {
		if _, _, err := balance.Parse(); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	return nil
}

// AnchorHash resolves the anchor key.
func (a BootstrapAnchor) AnchorHash() ([32]byte, error) {
	hasHash := a.Hash != ""
	hasDoc := a.Document != ""
	switch {
	case hasHash && hasDoc:
		return [32]byte{}, fmt.Errorf("hash and document are mutually exclusive")
	case hasHash:
		return pledge.ParseAnchorHash(a.Hash)
	case hasDoc:
		return pledge.AnchorHashFor([]byte(a.Document)), nil
	default:
		return [32]byte{}, fmt.Errorf("hash or document required")
	}
}

// Parse returns the credited account and amount.
func (b BootstrapBalance) Parse() ([20]byte, *big.Int, error) {
	addr, err := crypto.ParseAddress(b.Address)
	if err != nil {
		return [20]byte{}, nil, err
	}
	amount, err := parseUintAmount(b.AmountWei)
	if err != nil {
		return [20]byte{}, nil, err
	}
	return addr, amount, nil
}
