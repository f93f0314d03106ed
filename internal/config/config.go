package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Leaderboard struct {
		TTL string `yaml:"ttl"`
	} `yaml:"leaderboard"`
	Scoring struct {
		BasePoints   int `yaml:"basePoints"`
		MaxTimeBonus int `yaml:"maxTimeBonus"`
	} `yaml:"scoring"`
}

// Load reads YAML config from path. A missing file yields the zero config,
// which runs the service fully in-memory.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
