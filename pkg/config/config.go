package config

import (
	"fmt"
	"os"

	"github.com/obytehq/walletsrv/pkg/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

const userAgentFormat = "/walletsrv:%s/"

// Version is the version of the service, set at build time.
var Version string

// Config is the top-level configuration of the wallet coordination service.
type Config struct {
	Wallet     WalletConfiguration      `yaml:"Wallet"`
	DB         dbconfig.DBConfiguration `yaml:"DB"`
	Explorer   Explorer                 `yaml:"Explorer"`
	Hub        Hub                      `yaml:"Hub"`
	RPC        RPC                      `yaml:"RPC"`
	Prometheus BasicService             `yaml:"Prometheus"`
	Pprof      BasicService             `yaml:"Pprof"`
	FiatRates  FiatRates                `yaml:"FiatRates"`
	Monitor    Monitor                  `yaml:"Monitor"`
	LogLevel   string                   `yaml:"LogLevel"`
	Network    string                   `yaml:"Network"`
}

// GenerateUserAgent creates a user agent string based on the build time
// environment.
func (c Config) GenerateUserAgent() string {
	return fmt.Sprintf(userAgentFormat, Version)
}

// Load attempts to load the config from the given path, applying defaults
// for every option left unset.
func Load(path string) (Config, error) {
	configData, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return LoadRawConfig(configData)
}

// LoadRawConfig unmarshals the given raw YAML data into a Config with
// defaults applied.
func LoadRawConfig(data []byte) (Config, error) {
	config := Config{
		Wallet:   DefaultWalletConfiguration(),
		Network:  "livenet",
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	config.Explorer.applyDefaults()
	config.Hub.applyDefaults()
	config.RPC.applyDefaults()
	config.FiatRates.applyDefaults()
	return config, nil
}
