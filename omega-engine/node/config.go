package node

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/operators"
)

// EnvSecret overrides the configured default network secret (hex).
const EnvSecret = "OMEGA_SECRET"

// KeyConfig binds a pre-shared secret to one target frequency.
type KeyConfig struct {
	Frequency float64 `toml:"frequency"`
	Secret    string  `toml:"secret"`
}

// Config is the local configuration of a node.
type Config struct {
	ID      string  `toml:"id"`
	Omega   float64 `toml:"omega"`
	Workers int     `toml:"workers"`

	// Secret is the hex-encoded default network secret.
	Secret string      `toml:"secret"`
	Keys   []KeyConfig `toml:"keys"`

	Params operators.OperatorParams `toml:"params"`
}

// DefaultConfig returns a config tuned to ω = 1 with the reference operator
// parameters. The secret must still be provided.
func DefaultConfig() Config {
	return Config{
		Omega:   1.0,
		Workers: runtime.NumCPU(),
		Params:  operators.DefaultOperatorParams(),
	}
}

// LoadConfig reads a TOML node config on top of DefaultConfig and applies
// the OMEGA_SECRET override.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load node config: unknown keys %v", undecoded)
	}
	if err := cfg.Finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Finalize normalises a decoded config, applies the OMEGA_SECRET override
// and validates it. Callers embedding Config in a larger file use it after
// decoding.
func (c *Config) Finalize() error {
	c.ID = strings.TrimSpace(c.ID)
	if secret := strings.TrimSpace(os.Getenv(EnvSecret)); secret != "" {
		c.Secret = secret
	}
	return c.Validate()
}

// Validate checks the config without building anything.
func (c Config) Validate() error {
	if math.IsNaN(c.Omega) || math.IsInf(c.Omega, 0) {
		return fmt.Errorf("%w: omega must be finite", core.ErrInvalidParams)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative", core.ErrInvalidParams)
	}
	if _, err := c.Keyring(); err != nil {
		return err
	}
	return c.Params.Validate()
}

// Keyring decodes the configured secrets.
func (c Config) Keyring() (*operators.Keyring, error) {
	def, err := decodeSecret(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("default secret: %w", err)
	}
	perFreq := make(map[float64][]byte, len(c.Keys))
	for _, k := range c.Keys {
		s, err := decodeSecret(k.Secret)
		if err != nil {
			return nil, fmt.Errorf("secret for frequency %g: %w", k.Frequency, err)
		}
		perFreq[k.Frequency] = s
	}
	return operators.NewKeyring(def, perFreq)
}

func decodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: secret not set (config or %s)", core.ErrInvalidParams, EnvSecret)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not hex: %v", core.ErrInvalidParams, err)
	}
	return b, nil
}
