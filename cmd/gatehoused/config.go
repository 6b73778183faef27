package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the host-app configuration, loaded from a TOML file with
// environment overrides for the values that differ per deployment.
type Config struct {
	Listen    string `toml:"listen"`
	BasePath  string `toml:"base_path"`
	Database  string `toml:"database"`
	Product   string `toml:"product"`
	JWTSecret string `toml:"jwt_secret"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Listen:   ":8675",
		BasePath: "/",
		Database: "gatehouse.db",
		Product:  "Gatehouse",
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("GATEHOUSE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("GATEHOUSE_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("GATEHOUSE_JWT_SECRET_KEY"); v != "" {
		cfg.JWTSecret = v
	}
	return cfg, nil
}
