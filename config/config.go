package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"anchorledger/crypto"
	"anchorledger/native/pledge"
	"anchorledger/storage"
)

// Storage backends accepted by DBBackend.
const (
	BackendLevelDB = storage.BackendLevelDB
	BackendBolt    = storage.BackendBolt
	BackendMemory  = storage.BackendMemory
)

// AdminKeystoreEnv names the environment variable holding the passphrase of
// the administrator keystore written with a default configuration.
const AdminKeystoreEnv = "ANCHORLEDGER_ADMIN_PASSPHRASE"

var defaultKeystoreStrength = crypto.ScryptStandard

type Config struct {
	ListenAddress     string `toml:"ListenAddress"`
	DataDir           string `toml:"DataDir"`
	DBBackend         string `toml:"DBBackend"`
	ChainID           uint64 `toml:"ChainID"`
	BlockIntervalSecs uint64 `toml:"BlockIntervalSecs"`
	Environment       string `toml:"Environment"`
	LogLevel          string `toml:"LogLevel"`
	LogFile           string `toml:"LogFile"`
	BootstrapFile     string `toml:"BootstrapFile"`
	AdminKeystorePath string `toml:"AdminKeystorePath"`

	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Ledger    LedgerConfig    `toml:"ledger"`
}

// AuthConfig controls bearer token verification on the gateway.
type AuthConfig struct {
	HMACSecret    string `toml:"HMACSecret"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
	// AllowAnonymousReads lets unauthenticated clients call view routes.
	AllowAnonymousReads bool `toml:"AllowAnonymousReads"`
}

// RateLimitConfig bounds write requests per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// LedgerConfig carries the ledger parameters fixed at genesis. Addresses
// accept hex or bech32.
type LedgerConfig struct {
	Admin               string  `toml:"Admin"`
	Treasury            string  `toml:"Treasury"`
	Fallback            string  `toml:"Fallback"`
	Self                string  `toml:"Self"`
	VestHorizonBlocks   uint64  `toml:"VestHorizonBlocks"`
	HorizonGraceBlocks  *uint64 `toml:"HorizonGraceBlocks"`
	MaxPledgesPerAnchor uint64  `toml:"MaxPledgesPerAnchor"`
	MinPledgeWei        string  `toml:"MinPledgeWei"`
	MaxLabelLength      int     `toml:"MaxLabelLength"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration with a freshly generated administrator
// key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8645"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./anchor-data"
	}
	cfg.DBBackend = strings.ToLower(strings.TrimSpace(cfg.DBBackend))
	if cfg.DBBackend == "" {
		cfg.DBBackend = BackendLevelDB
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.BlockIntervalSecs == 0 {
		cfg.BlockIntervalSecs = 5
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.BootstrapFile = strings.TrimSpace(cfg.BootstrapFile)
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	cfg.Ledger.normalize()
}

func (l *LedgerConfig) normalize() {
	l.Admin = strings.TrimSpace(l.Admin)
	l.Treasury = strings.TrimSpace(l.Treasury)
	l.Fallback = strings.TrimSpace(l.Fallback)
	l.Self = strings.TrimSpace(l.Self)
	l.MinPledgeWei = strings.TrimSpace(l.MinPledgeWei)
	if l.VestHorizonBlocks == 0 {
		l.VestHorizonBlocks = pledge.DefaultVestHorizonBlocks
	}
	if l.HorizonGraceBlocks == nil {
		grace := pledge.DefaultHorizonGraceBlocks
		l.HorizonGraceBlocks = &grace
	}
	if l.MaxPledgesPerAnchor == 0 {
		l.MaxPledgesPerAnchor = pledge.DefaultMaxPledgesPerAnchor
	}
	if l.MaxLabelLength == 0 {
		l.MaxLabelLength = pledge.DefaultMaxLabelLength
	}
}

// Validate checks the configuration for values the daemon cannot start with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.DBBackend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("DBBackend %q not supported", cfg.DBBackend)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if _, err := cfg.Ledger.Params(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// Params converts the ledger section into engine parameters.
func (l LedgerConfig) Params() (pledge.Config, error) {
	admin, err := crypto.ParseAddress(l.Admin)
	if err != nil {
		return pledge.Config{}, fmt.Errorf("Admin: %w", err)
	}
	params := pledge.DefaultConfig(admin)
	for _, field := range []struct {
		name  string
		value string
		dst   *[20]byte
	}{
		{"Treasury", l.Treasury, &params.Treasury},
		{"Fallback", l.Fallback, &params.Fallback},
		{"Self", l.Self, &params.Self},
	} {
		if field.value == "" {
			continue
		}
		addr, err := crypto.ParseAddress(field.value)
		if err != nil {
			return pledge.Config{}, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = addr
	}
	if params.Self == ([20]byte{}) {
		return pledge.Config{}, fmt.Errorf("Self: ledger address required")
	}
	floor, err := parseUintAmount(l.MinPledgeWei)
	if err != nil {
		return pledge.Config{}, fmt.Errorf("MinPledgeWei: %w", err)
	}
	params.MinPledgeWei = floor
	if l.VestHorizonBlocks != 0 {
		params.VestHorizonBlocks = l.VestHorizonBlocks
	}
	if l.HorizonGraceBlocks != nil {
		params.HorizonGraceBlocks = *l.HorizonGraceBlocks
	}
	if l.MaxPledgesPerAnchor != 0 {
		params.MaxPledgesPerAnchor = l.MaxPledgesPerAnchor
	}
	if l.MaxLabelLength != 0 {
		params.MaxLabelLength = l.MaxLabelLength
	}
	return params, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

// HMACSecretValue resolves the token signing secret, preferring the
// environment variable when configured.
func (a AuthConfig) HMACSecretValue() string {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

// createDefault creates and saves a default configuration file together with
// an administrator keystore next to it.
func createDefault(path string) (*Config, error) {
	admin, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := filepath.Join(filepath.Dir(path), "admin.keystore")
	if err := crypto.SaveToKeystore(keystorePath, admin, os.Getenv(AdminKeystoreEnv), defaultKeystoreStrength); err != nil {
		return nil, err
	}
	ledgerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AdminKeystorePath: keystorePath,
		Auth:              AuthConfig{HMACSecretEnv: "ANCHORLEDGER_JWT_SECRET", AllowAnonymousReads: true},
		Ledger: LedgerConfig{
			Admin:        hexAddress(admin.PubKey().Address().Raw()),
			Self:         hexAddress(ledgerKey.PubKey().Address().Raw()),
			MinPledgeWei: "0",
		},
	}
	cfg.normalize()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hexAddress(raw [20]byte) string {
	return fmt.Sprintf("0x%x", raw[:])
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
