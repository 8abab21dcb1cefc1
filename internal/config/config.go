// Package config loads trialdata settings from the environment and an
// optional YAML config file. Flags override env, env overrides the file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultRepo is the release repository that hosts the study archives.
const DefaultRepo = "trialverse/trial-archives"

// Config holds every tunable of the tool.
type Config struct {
	// Repo is the GitHub repository holding release archives.
	Repo string `yaml:"repo" env:"TRIALDATA_REPO"`
	// CacheDir overrides the platform cache root for downloaded studies.
	CacheDir string `yaml:"cache_dir" env:"TRIALDATA_CACHE_DIR"`
	// BundledDir overrides where the bundled reference study materializes.
	BundledDir string `yaml:"bundled_dir" env:"TRIALDATA_BUNDLED_DIR"`
	// Token is a personal access token for private release repositories.
	Token string `yaml:"token" env:"TRIALDATA_GITHUB_TOKEN"`
	// MaxBytesPerSecond limits download bandwidth. 0 means unlimited.
	MaxBytesPerSecond int64 `yaml:"max_bytes_per_second" env:"TRIALDATA_MAX_BPS"`

	// AppID / AppInstallationID / AppKeyFile switch authentication to a
	// GitHub App installation instead of a personal token.
	AppID             int64  `yaml:"app_id" env:"TRIALDATA_APP_ID"`
	AppInstallationID int64  `yaml:"app_installation_id" env:"TRIALDATA_APP_INSTALLATION_ID"`
	AppKeyFile        string `yaml:"app_key_file" env:"TRIALDATA_APP_KEY_FILE"`

	// S3 mirror settings. When Bucket is set the S3 backend is used
	// instead of GitHub releases.
	S3 S3 `yaml:"s3"`
}

// S3 configures the mirror release store.
type S3 struct {
	Bucket    string `yaml:"bucket" env:"TRIALDATA_S3_BUCKET"`
	Region    string `yaml:"region" env:"TRIALDATA_S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"TRIALDATA_S3_ENDPOINT"`
	PathStyle bool   `yaml:"path_style" env:"TRIALDATA_S3_PATH_STYLE"`
}

// Load reads the optional YAML file at path (skipped when path is empty or
// the file does not exist), then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{Repo: DefaultRepo}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Optional file.
		default:
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return errors.New("repo must not be empty")
	}
	if c.MaxBytesPerSecond < 0 {
		return errors.New("max_bytes_per_second must be non-negative")
	}
	appFields := 0
	for _, set := range []bool{c.AppID != 0, c.AppInstallationID != 0, c.AppKeyFile != ""} {
		if set {
			appFields++
		}
	}
	if appFields != 0 && appFields != 3 {
		return errors.New("app_id, app_installation_id and app_key_file must be set together")
	}
	if appFields == 3 && c.Token != "" {
		return errors.New("token and GitHub App credentials are mutually exclusive")
	}
	return nil
}
