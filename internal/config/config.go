// Package config loads and validates the bot configuration from YAML with
// environment expansion. A .env file next to the binary is honored so
// secrets stay out of the YAML.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/membot-trading/membot/internal/janitor"
	"github.com/membot-trading/membot/internal/jupiter"
	"github.com/membot-trading/membot/internal/sniper"
	"github.com/membot-trading/membot/internal/solana"
	"github.com/membot-trading/membot/internal/spike"
	"github.com/membot-trading/membot/internal/stairs"
	"github.com/membot-trading/membot/internal/watcher"
)

// Exit modes.
const (
	ModeClassic = "classic" // timed sell schedule
	ModeStairs  = "stairs"  // market-cap ladder
)

// WalletConfig holds key material. SecretKey is usually supplied as
// ${WALLET_SECRET_KEY} and expanded from the environment.
type WalletConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// Config is the full bot configuration.
type Config struct {
	Mode       string `yaml:"mode"`
	LogLevel   string `yaml:"log_level"`
	DryRun     bool   `yaml:"dry_run"`
	StatusAddr string `yaml:"status_addr"`

	// ForceMints are injected as candidates at startup, bypassing discovery.
	ForceMints []string `yaml:"force_mints"`

	Wallet  WalletConfig         `yaml:"wallet"`
	RPC     solana.GatewayConfig `yaml:"rpc"`
	Watcher watcher.Config       `yaml:"watcher"`
	Jupiter jupiter.Config       `yaml:"jupiter"`
	Sniper  sniper.Config        `yaml:"sniper"`
	Stairs  stairs.Config        `yaml:"stairs"`
	Spike   spike.Config         `yaml:"spike"`
	Janitor janitor.Config       `yaml:"janitor"`
}

func Default() Config {
	return Config{
		Mode:       ModeClassic,
		LogLevel:   "info",
		StatusAddr: ":8787",
		RPC:        solana.DefaultGatewayConfig(),
		Watcher:    watcher.DefaultConfig(),
		Jupiter:    jupiter.DefaultConfig(),
		Sniper:     sniper.DefaultConfig(),
		Stairs:     stairs.DefaultConfig(),
		Spike:      spike.DefaultConfig(),
		Janitor:    janitor.DefaultConfig(),
	}
}

// Load reads path, expands ${ENV} references and validates the result. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("config: .env loaded")
	}

	config := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config: file not found, using defaults")
			return config, config.Validate()
		}
		return config, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return config, fmt.Errorf("config: parse %s: %w", path, err)
	}
	config.applyDefaults()
	return config, config.Validate()
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.StatusAddr == "" {
		c.StatusAddr = d.StatusAddr
	}
	if c.RPC.Endpoint == "" {
		c.RPC.Endpoint = d.RPC.Endpoint
	}
	if c.Watcher.WSEndpoint == "" {
		c.Watcher.WSEndpoint = d.Watcher.WSEndpoint
	}
	if c.Watcher.ProgramID == "" {
		c.Watcher.ProgramID = d.Watcher.ProgramID
	}
}

// Validate rejects configurations the bot cannot run with.
func (c Config) Validate() error {
	if c.Mode != ModeClassic && c.Mode != ModeStairs {
		return fmt.Errorf("config: mode %q must be %q or %q", c.Mode, ModeClassic, ModeStairs)
	}
	if !c.DryRun && c.Wallet.SecretKey == "" {
		return fmt.Errorf("config: wallet.secret_key is required outside dry-run")
	}
	for _, mint := range c.ForceMints {
		if !solana.IsValidPubkey(mint) {
			return fmt.Errorf("config: force mint %q is not a valid pubkey", mint)
		}
	}
	if c.Mode == ModeStairs {
		if err := c.Stairs.Validate(); err != nil {
			return err
		}
		if err := c.Spike.Validate(); err != nil {
			return err
		}
	}
	return nil
}
