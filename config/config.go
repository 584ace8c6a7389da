// Package config loads the daemon configuration from a YAML or TOML file.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-oracle-go/oracles/pushfeed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in aggregator.backends.
const (
	BackendIdentity = "identity"
	BackendPushFeed = "pushfeed"
	BackendTwap     = "twap"
)

const (
	DefaultListen               = ":8080"
	DefaultBudget               = 30_000_000
	DefaultRequestsPerMinute    = 600
	DefaultBurst                = 50
	DefaultMinPeriod            = 5 * time.Minute
	DefaultMaxPeriod            = 45 * time.Minute
	DefaultPeriod               = 10 * time.Minute
	DefaultCardinalityPerMinute = 4
)

type Config struct {
	Log          LogConfig         `yaml:"log" toml:"log"`
	State        StateConfig       `yaml:"state" toml:"state"`
	Access       AccessConfig      `yaml:"access" toml:"access"`
	Server       ServerConfig      `yaml:"server" toml:"server"`
	Tokens       []TokenConfig     `yaml:"tokens" toml:"tokens"`
	Twap         TwapConfig        `yaml:"twap" toml:"twap"`
	Feeds        FeedsConfig       `yaml:"feeds" toml:"feeds"`
	Transformers TransformerConfig `yaml:"transformers" toml:"transformers"`
	Aggregator   AggregatorConfig  `yaml:"aggregator" toml:"aggregator"`
}

type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`
	// File, when set, receives the log instead of stdout and is rotated.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

type StateConfig struct {
	// Path is the leveldb directory. Empty keeps state in memory.
	Path          string `yaml:"path" toml:"path"`
	DefaultBudget uint64 `yaml:"default_budget" toml:"default_budget"`
}

type AccessConfig struct {
	SuperAdmin string   `yaml:"super_admin" toml:"super_admin"`
	Admins     []string `yaml:"admins" toml:"admins"`
}

type ServerConfig struct {
	Listen            string  `yaml:"listen" toml:"listen"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type TokenConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Name     string `yaml:"name" toml:"name"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

type TwapConfig struct {
	MinPeriod            Duration     `yaml:"min_period" toml:"min_period"`
	MaxPeriod            Duration     `yaml:"max_period" toml:"max_period"`
	Period               Duration     `yaml:"period" toml:"period"`
	CardinalityPerMinute uint64       `yaml:"cardinality_per_minute" toml:"cardinality_per_minute"`
	GasPerCardinality    uint64       `yaml:"gas_per_cardinality" toml:"gas_per_cardinality"`
	GasCostToSupportPool uint64       `yaml:"gas_cost_to_support_pool" toml:"gas_cost_to_support_pool"`
	Pools                []PoolConfig `yaml:"pools" toml:"pools"`
	// StreamURL, when set, is a websocket pool stream that keeps Pools current.
	StreamURL string `yaml:"stream_url" toml:"stream_url"`
}

type PoolConfig struct {
	Address string `yaml:"address" toml:"address"`
	Token0  string `yaml:"token0" toml:"token0"`
	Token1  string `yaml:"token1" toml:"token1"`
	Fee     uint64 `yaml:"fee" toml:"fee"`
	Tick    int64  `yaml:"tick" toml:"tick"`
	// Liquidity is a base 10 integer.
	Liquidity string `yaml:"liquidity" toml:"liquidity"`
}

type FeedsConfig struct {
	// RPCURL selects the on-chain feed registry at Registry instead of the static feeds.
	RPCURL   string          `yaml:"rpc_url" toml:"rpc_url"`
	Registry string          `yaml:"registry" toml:"registry"`
	MaxDelay Duration        `yaml:"max_delay" toml:"max_delay"`
	Static   []StaticFeed    `yaml:"static" toml:"static"`
	Mappings []MappingConfig `yaml:"mappings" toml:"mappings"`
}

// StaticFeed is a fixed price of Base in Quote. Base and Quote may be the
// words "USD" or "ETH".
type StaticFeed struct {
	Base     string `yaml:"base" toml:"base"`
	Quote    string `yaml:"quote" toml:"quote"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
	Price    string `yaml:"price" toml:"price"`
}

type MappingConfig struct {
	Token  string `yaml:"token" toml:"token"`
	Mapped string `yaml:"mapped" toml:"mapped"`
}

type TransformerConfig struct {
	Ratios []RatioConfig `yaml:"ratios" toml:"ratios"`
	// Avoid lists dependents that are priced as themselves.
	Avoid []string `yaml:"avoid" toml:"avoid"`
}

// RatioConfig prices one unit of Dependent as Rate units of Underlying.
type RatioConfig struct {
	Dependent  string `yaml:"dependent" toml:"dependent"`
	Underlying string `yaml:"underlying" toml:"underlying"`
	Rate       string `yaml:"rate" toml:"rate"`
}

type AggregatorConfig struct {
	Backends []string `yaml:"backends" toml:"backends"`
}

// Load reads the file at path, chosen by extension, applies defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension", path)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.State.DefaultBudget == 0 {
		c.State.DefaultBudget = DefaultBudget
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = DefaultBurst
	}
	if c.Twap.MinPeriod.Duration == 0 {
		c.Twap.MinPeriod.Duration = DefaultMinPeriod
	}
	if c.Twap.MaxPeriod.Duration == 0 {
		c.Twap.MaxPeriod.Duration = DefaultMaxPeriod
	}
	if c.Twap.Period.Duration == 0 {
		c.Twap.Period.Duration = DefaultPeriod
	}
	if c.Twap.CardinalityPerMinute == 0 {
		c.Twap.CardinalityPerMinute = DefaultCardinalityPerMinute
	}
	if len(c.Aggregator.Backends) == 0 {
		c.Aggregator.Backends = []string{BackendIdentity, BackendPushFeed, BackendTwap}
	}
}

// Validate checks every field that components do not validate themselves.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if _, err := ParseAddress(c.Access.SuperAdmin); err != nil {
		return fmt.Errorf("config: access.super_admin: %w", err)
	}
	for i, admin := range c.Access.Admins {
		if _, err := ParseAddress(admin); err != nil {
			return fmt.Errorf("config: access.admins[%d]: %w", i, err)
		}
	}
	needsAdmin := len(c.Feeds.Mappings) > 0 || len(c.Transformers.Avoid) > 0
	if needsAdmin && len(c.Access.Admins) == 0 {
		return errors.New("config: feeds.mappings and transformers.avoid require at least one admin")
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.Burst < 0 {
		return errors.New("config: server rate limits cannot be negative")
	}

	for i, t := range c.Tokens {
		if _, err := ParseAddress(t.Address); err != nil {
			return fmt.Errorf("config: tokens[%d]: %w", i, err)
		}
	}
	for i, p := range c.Twap.Pools {
		for _, addr := range []string{p.Address, p.Token0, p.Token1} {
			if _, err := ParseAddress(addr); err != nil {
				return fmt.Errorf("config: twap.pools[%d]: %w", i, err)
			}
		}
		if _, ok := new(big.Int).SetString(p.Liquidity, 10); !ok {
			return fmt.Errorf("config: twap.pools[%d]: invalid liquidity %q", i, p.Liquidity)
		}
	}
	if u := c.Twap.StreamURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("config: twap.stream_url must be a websocket url, got %q", u)
	}

	if c.Feeds.RPCURL != "" {
		if _, err := ParseAddress(c.Feeds.Registry); err != nil {
			return fmt.Errorf("config: feeds.registry: %w", err)
		}
		if len(c.Feeds.Static) > 0 {
			return errors.New("config: feeds.static cannot be combined with feeds.rpc_url")
		}
	}
	for i, f := range c.Feeds.Static {
		if _, err := ParseAsset(f.Base); err != nil {
			return fmt.Errorf("config: feeds.static[%d].base: %w", i, err)
		}
		if _, err := ParseAsset(f.Quote); err != nil {
			return fmt.Errorf("config: feeds.static[%d].quote: %w", i, err)
		}
		if _, err := decimal.NewFromString(f.Price); err != nil {
			return fmt.Errorf("config: feeds.static[%d].price: %w", i, err)
		}
	}
	for i, m := range c.Feeds.Mappings {
		if _, err := ParseAddress(m.Token); err != nil {
			return fmt.Errorf("config: feeds.mappings[%d].token: %w", i, err)
		}
		if _, err := ParseAsset(m.Mapped); err != nil {
			return fmt.Errorf("config: feeds.mappings[%d].mapped: %w", i, err)
		}
	}

	for i, r := range c.Transformers.Ratios {
		if _, err := ParseAddress(r.Dependent); err != nil {
			return fmt.Errorf("config: transformers.ratios[%d].dependent: %w", i, err)
		}
		if _, err := ParseAddress(r.Underlying); err != nil {
			return fmt.Errorf("config: transformers.ratios[%d].underlying: %w", i, err)
		}
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return fmt.Errorf("config: transformers.ratios[%d].rate: %w", i, err)
		}
		if !rate.IsPositive() {
			return fmt.Errorf("config: transformers.ratios[%d].rate must be positive", i)
		}
	}
	for i, addr := range c.Transformers.Avoid {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("config: transformers.avoid[%d]: %w", i, err)
		}
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, name := range c.Aggregator.Backends {
		switch name {
		case BackendIdentity, BackendPushFeed, BackendTwap:
		default:
			return fmt.Errorf("config: unknown aggregator backend %q", name)
		}
		if !seen.Add(name) {
			return fmt.Errorf("config: duplicate aggregator backend %q", name)
		}
	}
	return nil
}

// ParseAddress parses a non-zero hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("zero address")
	}
	return addr, nil
}

// ParseAsset parses an address or one of the denominations "USD" and "ETH".
func ParseAsset(s string) (common.Address, error) {
	switch strings.ToUpper(s) {
	case "USD":
		return pushfeed.USD, nil
	case "ETH":
		return pushfeed.ETH, nil
	}
	return ParseAddress(s)
}
