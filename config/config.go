package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"tokenswap/crypto"
	"tokenswap/native/tokenswap"
)

const (
	SignerModeDerived = "derived"
	SignerModeKey     = "key"

	CustodyModeDerived  = "derived"
	CustodyModeExternal = "external"
)

// Config describes one exchange deployment.
type Config struct {
	ProgramID string              `toml:"ProgramID"`
	Signer    SignerConfig        `toml:"Signer"`
	Custody   CustodyConfig       `toml:"Custody"`
	Assets    AssetsConfig        `toml:"Assets"`
	Feeds     FeedsConfig         `toml:"Feeds"`
	Policy    PolicyConfig        `toml:"Policy"`
	Genesis   []GenesisAllocation `toml:"Genesis,omitempty"`
}

// SignerConfig selects the treasury authority implementation.
type SignerConfig struct {
	Mode          string `toml:"Mode"`
	KeystorePath  string `toml:"KeystorePath"`
	PassphraseEnv string `toml:"PassphraseEnv"`
}

// CustodyConfig selects derived or operator supplied custody accounts.
type CustodyConfig struct {
	Mode   string `toml:"Mode"`
	Native string `toml:"Native"`
	Output string `toml:"Output"`
	AssetA string `toml:"AssetA"`
	AssetB string `toml:"AssetB"`
}

// Asset registers a token with the substrate.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// AssetsConfig lists the four assets of the deployment.
type AssetsConfig struct {
	Native Asset `toml:"Native"`
	Output Asset `toml:"Output"`
	AssetA Asset `toml:"AssetA"`
	AssetB Asset `toml:"AssetB"`
}

// FeedsConfig carries hex encoded oracle feed identifiers.
type FeedsConfig struct {
	Native string `toml:"Native"`
	AssetA string `toml:"AssetA"`
	AssetB string `toml:"AssetB"`
}

// PolicyConfig exposes the tunable trade bounds. The output unit price is
// fixed in the engine and cannot be configured.
type PolicyConfig struct {
	MinPurchase         uint64 `toml:"MinPurchase"`
	MaxPurchase         uint64 `toml:"MaxPurchase"`
	NativeMaxAgeSeconds uint64 `toml:"NativeMaxAgeSeconds"`
	StableMaxAgeSeconds uint64 `toml:"StableMaxAgeSeconds"`
}

// GenesisAllocation credits an account when the state database is empty.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Load reads the deployment file at path, writing a development default when
// the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Signer.Mode) == "" {
		cfg.Signer.Mode = SignerModeDerived
	}
	if strings.TrimSpace(cfg.Custody.Mode) == "" {
		cfg.Custody.Mode = CustodyModeDerived
	}
	if cfg.Signer.PassphraseEnv == "" {
		cfg.Signer.PassphraseEnv = "TOKENSWAP_TREASURY_PASSPHRASE"
	}
	defaultAsset := func(asset *Asset, symbol string, decimals uint8) {
		if strings.TrimSpace(asset.Symbol) == "" {
			asset.Symbol = symbol
			if asset.Decimals == 0 {
				asset.Decimals = decimals
			}
		}
		if asset.Name == "" {
			asset.Name = asset.Symbol
		}
	}
	defaultAsset(&cfg.Assets.Native, "SOL", 9)
	defaultAsset(&cfg.Assets.Output, "TSW", 6)
	defaultAsset(&cfg.Assets.AssetA, "USDC", 6)
	defaultAsset(&cfg.Assets.AssetB, "USDT", 6)
	feeds := tokenswap.DefaultFeeds()
	if cfg.Feeds.Native == "" {
		cfg.Feeds.Native = feeds.Native.Hex()
	}
	if cfg.Feeds.AssetA == "" {
		cfg.Feeds.AssetA = feeds.AssetA.Hex()
	}
	if cfg.Feeds.AssetB == "" {
		cfg.Feeds.AssetB = feeds.AssetB.Hex()
	}
	if cfg.Policy.MinPurchase == 0 {
		cfg.Policy.MinPurchase = tokenswap.DefaultMinPurchase
	}
	if cfg.Policy.MaxPurchase == 0 {
		cfg.Policy.MaxPurchase = tokenswap.DefaultMaxPurchase
	}
	if cfg.Policy.NativeMaxAgeSeconds == 0 {
		cfg.Policy.NativeMaxAgeSeconds = uint64(tokenswap.DefaultNativeMaxAge / time.Second)
	}
	if cfg.Policy.StableMaxAgeSeconds == 0 {
		cfg.Policy.StableMaxAgeSeconds = uint64(tokenswap.DefaultStableMaxAge / time.Second)
	}
}

func createDefault(path string) (*Config, error) {
	identity, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	program := identity.PubKey().Address().Raw()
	cfg := &Config{
		ProgramID: crypto.NewAddress(crypto.ProgramPrefix, program[:]).String(),
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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

// Program returns the deployment's program identity.
func (c *Config) Program() ([20]byte, error) {
	return crypto.ParseAddress(c.ProgramID)
}

// EngineFeeds decodes the configured feed identifiers.
func (c *Config) EngineFeeds() (tokenswap.Feeds, error) {
	parse := func(name, raw string) (tokenswap.FeedID, error) {
		trimmed := strings.TrimSpace(raw)
		decoded, err := hexutil.Decode(trimmed)
		if err != nil || len(decoded) != ethcommon.HashLength {
			return tokenswap.FeedID{}, fmt.Errorf("feeds: %s must be a 32 byte hex id", name)
		}
		return ethcommon.BytesToHash(decoded), nil
	}
	var feeds tokenswap.Feeds
	var err error
	if feeds.Native, err = parse("Native", c.Feeds.Native); err != nil {
		return feeds, err
	}
	if feeds.AssetA, err = parse("AssetA", c.Feeds.AssetA); err != nil {
		return feeds, err
	}
	if feeds.AssetB, err = parse("AssetB", c.Feeds.AssetB); err != nil {
		return feeds, err
	}
	return feeds, nil
}

// EnginePolicy converts the policy section into engine parameters.
func (c *Config) EnginePolicy() tokenswap.Policy {
	policy := tokenswap.DefaultPolicy()
	policy.MinPurchase = c.Policy.MinPurchase
	policy.MaxPurchase = c.Policy.MaxPurchase
	policy.NativeMaxAge = time.Duration(c.Policy.NativeMaxAgeSeconds) * time.Second
	policy.StableMaxAge = time.Duration(c.Policy.StableMaxAgeSeconds) * time.Second
	return policy
}

// EngineCustody resolves the custody layout for program.
func (c *Config) EngineCustody(program [20]byte) (tokenswap.Custody, error) {
	if c.Custody.Mode == CustodyModeDerived {
		return tokenswap.DerivedCustody(program), nil
	}
	var addrs [4][20]byte
	for i, raw := range []string{c.Custody.Native, c.Custody.Output, c.Custody.AssetA, c.Custody.AssetB} {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return tokenswap.Custody{}, fmt.Errorf("custody: %w", err)
		}
		addrs[i] = addr
	}
	return tokenswap.ExternalCustody(addrs[0], addrs[1], addrs[2], addrs[3]), nil
}

// Allocation is a decoded genesis entry.
type Allocation struct {
	Address [20]byte
	Asset   string
	Amount  *big.Int
}

// Allocations decodes the genesis section.
func (c *Config) Allocations() ([]Allocation, error) {
	out := make([]Allocation, 0, len(c.Genesis))
	for i, entry := range c.Genesis {
		addr, err := crypto.ParseAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis[%d]: amount must be a positive integer", i)
		}
		out = append(out, Allocation{Address: addr, Asset: strings.ToUpper(strings.TrimSpace(entry.Asset)), Amount: amount})
	}
	return out, nil
}
