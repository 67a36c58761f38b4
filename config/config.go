// Package config loads and persists the client configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "streamlink"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "STREAMLINK_DATA_DIR"

	DefaultPollInterval            = 5 * time.Second
	DefaultRefreshLimit            = 4
	DefaultRequestTimeout          = 10 * time.Second
	DefaultPairingHistoryRetention = 180 * 24 * time.Hour

	configFileName = "config.yaml"
	keysDirName    = "keys"
)

// Config is the persistent client configuration.
type Config struct {
	// UniqueID identifies this client to every host. It must be a UUID.
	UniqueID       string        `yaml:"uniqueId"`
	DeviceName     string        `yaml:"deviceName"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Identity       Identity      `yaml:"identity"`
	Discovery      Discovery     `yaml:"discovery"`
	Storage        Storage       `yaml:"storage"`
}

// Identity locates the client credential on disk.
type Identity struct {
	CertPath string `yaml:"certPath"`
	KeyPath  string `yaml:"keyPath"`
}

// Discovery tunes the host directory's background work.
type Discovery struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	// RefreshLimit bounds concurrent status refreshes.
	RefreshLimit int `yaml:"refreshLimit"`
}

// Storage tunes the persistent store.
type Storage struct {
	PairingHistoryRetention time.Duration `yaml:"pairingHistoryRetention"`
}

// ResolveDataDir returns the OS-aware app data directory, or the value of
// STREAMLINK_DATA_DIR when set.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	if runtime.GOOS == "linux" {
		if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
			return filepath.Join(base, AppDirectoryName), nil
		}
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(base, AppDirectoryName), nil
}

// Path returns the config file path inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// LoadOrCreate resolves the data directory, reads the config file (creating
// it when missing), fills in defaults and writes the result back if anything
// changed. It returns the config and its path.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Join(dataDir, keysDirName), 0o700); err != nil {
		return nil, "", fmt.Errorf("mkdir: %w", err)
	}

	path := Path(dataDir)
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, "", fmt.Errorf("unmarshal: %w", err)
	}

	setDefaults(&cfg, dataDir)
	if err = validate(cfg); err != nil {
		return nil, "", err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("marshal: %w", err)
	}
	if !bytes.Equal(out, raw) {
		if err := os.WriteFile(path, out, 0o600); err != nil {
			return nil, "", fmt.Errorf("write file: %w", err)
		}
	}

	return &cfg, path, nil
}

func setDefaults(cfg *Config, dataDir string) {
	if _, err := uuid.Parse(cfg.UniqueID); err != nil {
		cfg.UniqueID = uuid.NewString()
	}

	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = "Streamlink Client"
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.DeviceName = host
		}
	}

	if cfg.Identity.CertPath == "" {
		cfg.Identity.CertPath = filepath.Join(dataDir, keysDirName, "client_cert.pem")
	}
	if cfg.Identity.KeyPath == "" {
		cfg.Identity.KeyPath = filepath.Join(dataDir, keysDirName, "client_key.pem")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Discovery.PollInterval <= 0 {
		cfg.Discovery.PollInterval = DefaultPollInterval
	}
	if cfg.Discovery.RefreshLimit <= 0 {
		cfg.Discovery.RefreshLimit = DefaultRefreshLimit
	}
	if cfg.Storage.PairingHistoryRetention <= 0 {
		cfg.Storage.PairingHistoryRetention = DefaultPairingHistoryRetention
	}
}

func validate(cfg Config) error {
	var err error

	if cfg.Discovery.PollInterval < time.Second {
		err = errors.Join(err, fmt.Errorf("discovery poll interval must be at least 1s"))
	}
	if cfg.Identity.CertPath == cfg.Identity.KeyPath {
		err = errors.Join(err, fmt.Errorf("identity cert and key paths must differ"))
	}

	return err
}
