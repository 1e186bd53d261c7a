package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	DatasetLog bool   `toml:"dataset_log"`
}

// Converter contains settings for the dcm2niix invocation that are not part
// of a bidsmap.
type Converter struct {
	Binary         string `toml:"binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Ledger controls the SQLite record of coined acquisitions.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Coin contains defaults for the coin command.
type Coin struct {
	Plugin  string `toml:"plugin"`
	Bidsmap string `toml:"bidsmap"`
	Lock    bool   `toml:"lock"`
}

// Config encapsulates all configuration values for bidskit.
//
// Configuration sections:
//   - Logging: log format, level and the per-dataset JSON log
//   - Converter: dcm2niix binary name and per-call timeout
//   - Ledger: SQLite outcome store
//   - Coin: plugin preset, bidsmap location and dataset locking
type Config struct {
	Logging   Logging   `toml:"logging"`
	Converter Converter `toml:"converter"`
	Ledger    Ledger    `toml:"ledger"`
	Coin      Coin      `toml:"coin"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bidskit/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file is not an
// error: defaults are returned with exists=false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("bidskit.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// DatasetDir is the folder inside a BIDS dataset that holds bidskit state.
func DatasetDir(bidsFolder string) string {
	return filepath.Join(bidsFolder, "code", "bidskit")
}

// BidsmapPath returns the bidsmap used for bidsFolder: the configured path
// when set, otherwise code/bidskit/bidsmap.toml inside the dataset.
func (c *Config) BidsmapPath(bidsFolder string) string {
	if c.Coin.Bidsmap != "" {
		return c.Coin.Bidsmap
	}
	return filepath.Join(DatasetDir(bidsFolder), "bidsmap.toml")
}

// LedgerPath returns the SQLite file for bidsFolder.
func (c *Config) LedgerPath(bidsFolder string) string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(DatasetDir(bidsFolder), "ledger.db")
}

// LockPath returns the advisory lock file for bidsFolder.
func (c *Config) LockPath(bidsFolder string) string {
	return filepath.Join(DatasetDir(bidsFolder), "coin.lock")
}

// ConverterTimeout is the per-acquisition dcm2niix limit; zero disables it.
func (c *Config) ConverterTimeout() time.Duration {
	if c.Converter.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Converter.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
