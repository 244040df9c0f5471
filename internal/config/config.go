package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr         string
	DatabaseDSN        string
	SigningKey         []byte
	AllowedOrigins     []string
	AllowedEmailDomain string
	Environment        string
}

// fileConfig is the yaml representation of Config. Values from a config
// file are merged under any explicitly provided flags.
type fileConfig struct {
	ServerAddr         string   `yaml:"server_addr"`
	DatabaseDSN        string   `yaml:"database_dsn"`
	SigningSecret      string   `yaml:"signing_secret"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	AllowedEmailDomain string   `yaml:"allowed_email_domain"`
	Environment        string   `yaml:"environment"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, emailDomain, environment string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if environment == "" {
		environment = "development"
	}

	return &Config{
		ServerAddr:         serverAddr,
		DatabaseDSN:        databaseDSN,
		SigningKey:         signingKey,
		AllowedOrigins:     allowedOrigins,
		AllowedEmailDomain: emailDomain,
		Environment:        environment,
	}, nil
}

// FromFile builds a Config from a yaml file.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return NewConfig(fc.ServerAddr, fc.DatabaseDSN, fc.SigningSecret,
		fc.AllowedOrigins, fc.AllowedEmailDomain, fc.Environment)
}
