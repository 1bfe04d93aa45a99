package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

const (
	configFileName = "ledger"
	configFileType = "yaml"
	defaultConfig  = "ledger.yaml"
)

// defaultConfigYAML is written on first run so a new setup has a
// template to fill in.
const defaultConfigYAML = `# ledgercache configuration

locale: en_GB

cache:
  path: ledger-cache.db
  max_age_days: 7

spreadsheet:
  id: ""
  worksheet: Sheet1

# Logical columns, in sheet order. Types: date, int, float, string.
columns:
  - {name: Date, type: date}
  - {name: Amount, type: float}
  - {name: Description, type: string}
  - {name: Category, type: string}

# Role mapping. Only description may join multiple columns with | or +.
mapping:
  date: Date
  amount: Amount
  description: Description
  category: Category
`

// fileConfig mirrors the YAML layout before translation to
// types.Config.
type fileConfig struct {
	Locale string `mapstructure:"locale"`
	Cache  struct {
		Path       string `mapstructure:"path"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"cache"`
	Spreadsheet types.Source      `mapstructure:"spreadsheet"`
	Columns     []types.Column    `mapstructure:"columns"`
	Mapping     map[string]string `mapstructure:"mapping"`
}

// loadConfig reads the config file, creating a default one on first
// run when no explicit path was given.
func loadConfig(path string) (types.Config, error) {
	v := viper.New()
	v.SetConfigType(configFileType)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if err := ensureDefaultConfigFile(); err != nil {
			return types.Config{}, err
		}
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return types.Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return types.Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := types.Config{
		Source:      fc.Spreadsheet,
		Columns:     fc.Columns,
		Mapping:     fc.Mapping,
		Locale:      fc.Locale,
		MaxCacheAge: time.Duration(fc.Cache.MaxAgeDays) * 24 * time.Hour,
		DBPath:      fc.Cache.Path,
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// ensureDefaultConfigFile writes a template ledger.yaml if none exists.
func ensureDefaultConfigFile() error {
	_, err := os.Stat(defaultConfig)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(defaultConfig, []byte(defaultConfigYAML), 0o644)
}
