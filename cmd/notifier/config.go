package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"intent-notifier/pkg/settlement"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

type config struct {
	DBPath   string `yaml:"db_path" json:"db_path"`
	Account  string `yaml:"account" json:"account"`
	Codec    string `yaml:"codec" json:"codec"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

func loadConfigFromEnv() config {
	return config{
		DBPath:   os.Getenv("NOTIFIER_DB_PATH"),
		Account:  os.Getenv("NOTIFIER_ACCOUNT"),
		Codec:    os.Getenv("NOTIFIER_CODEC"),
		LogLevel: os.Getenv("LOG_LEVEL"),
	}
}

// loadConfigFromFile overrides cfg with the values present in the file.
func loadConfigFromFile(cfg *config, filePath string) error {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file at: %s, %w", filePath, err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file at: %s, %w", filePath, err)
	}
	return nil
}

func checkConfig(cfg *config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if strings.HasPrefix(cfg.DBPath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(homeDir, cfg.DBPath[2:])
	}

	if cfg.Account == "" {
		return fmt.Errorf("account is required")
	}

	if cfg.Codec == "" {
		cfg.Codec = settlement.CodecJSON
	}
	if _, err := settlement.NewCodec(cfg.Codec); err != nil {
		return err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func setupLogging(logLevel string) {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
