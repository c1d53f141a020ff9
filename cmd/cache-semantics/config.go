package main

import (
	"os"

	"gopkg.in/yaml.v3"

	transformer "github.com/always-cache/cache-semantics/pkg/response-transformer"
)

// Config is the YAML configuration file format. Command line flags
// override the corresponding fields.
type Config struct {
	Port     int      `yaml:"port"`
	Origin   string   `yaml:"origin"`
	Host     string   `yaml:"host"`
	Provider string   `yaml:"provider"`
	DB       string   `yaml:"db"`
	Redis    string   `yaml:"redis"`
	Methods  []string `yaml:"methods"`

	DefaultCacheControl string `yaml:"defaultCacheControl"`
	PrivateCache        bool   `yaml:"privateCache"`
	IgnoreCargoCult     bool   `yaml:"ignoreCargoCult"`

	LogFile string            `yaml:"logFile"`
	Rules   transformer.Rules `yaml:"rules"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
