package config

import (
	"fmt"

	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults mirror the behaviour of the hosted web form.
const (
	DefaultConfigPath        = "config.toml"
	DefaultEndpoint          = "https://tiktok-da.onrender.com/download"
	DefaultDomainToken       = "tiktok.com"
	DefaultTimeoutSec        = 60
	DefaultMaxRetries        = 1
	DefaultRetryDelayMs      = 3000
	DefaultProgressTickMs    = 500
	DefaultProgressStep      = 3.0
	DefaultProgressCeiling   = 75.0
	DefaultSavePath          = "downloads"
	DefaultDatabasePath      = "tiktok_saver_db"
	DefaultBleveIndexPath    = "history.bleve"
	DefaultMaxPreviewBytes   = 64 << 20
	DefaultAcquireTimeoutSec = 120
	DefaultPreviewAddr       = "127.0.0.1:8787"
	DefaultHistoryCapacity   = 20
)

// Default returns a config with every field set to its default.
func Default() models.Config {
	cfg := models.Config{MaxRetries: DefaultMaxRetries}
	ApplyDefaults(&cfg, true)
	return cfg
}

// LoadConfig reads the TOML configuration at configFilePath (defaulting to
// "config.toml") and fills in defaults for anything left unset.
// On error the returned config still carries the defaults.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}
	var cfg models.Config
	meta, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return Default(), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	// MaxRetries = 0 is a legitimate setting, so only default it when absent.
	retriesSet := meta.IsDefined("MaxRetries")
	if retriesSet && cfg.MaxRetries < 0 {
		log.Warnf("MaxRetries %d is negative, using %d", cfg.MaxRetries, DefaultMaxRetries)
		retriesSet = false
	}
	ApplyDefaults(&cfg, !retriesSet)

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warnf("Ignoring unknown config keys in %s: %v", configFilePath, undecoded)
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults replaces zero or invalid values with their defaults.
// MaxRetries is only touched when defaultRetries is true.
func ApplyDefaults(cfg *models.Config, defaultRetries bool) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.DomainToken == "" {
		cfg.DomainToken = DefaultDomainToken
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = DefaultTimeoutSec
	}
	if defaultRetries {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = DefaultRetryDelayMs
	}
	if cfg.ProgressTickMs <= 0 {
		cfg.ProgressTickMs = DefaultProgressTickMs
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = DefaultProgressStep
	}
	if cfg.ProgressCeiling <= 0 || cfg.ProgressCeiling >= 100 {
		cfg.ProgressCeiling = DefaultProgressCeiling
	}
	if cfg.SavePath == "" {
		cfg.SavePath = DefaultSavePath
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = DefaultBleveIndexPath
	}
	if cfg.MaxPreviewBytes <= 0 {
		cfg.MaxPreviewBytes = DefaultMaxPreviewBytes
	}
	if cfg.AcquireTimeoutSec <= 0 {
		cfg.AcquireTimeoutSec = DefaultAcquireTimeoutSec
	}
	if cfg.PreviewAddr == "" {
		cfg.PreviewAddr = DefaultPreviewAddr
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
}
