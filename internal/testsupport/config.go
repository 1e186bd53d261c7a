package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"bidskit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose ledger lives in a per-test temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Logging.DatasetLog = false
	cfgVal.Coin.Lock = false
	cfgVal.Ledger.Path = filepath.Join(base, "ledger.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithLedgerDisabled turns the SQLite ledger off.
func WithLedgerDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Enabled = false
	}
}

// WithPlugin selects a plugin preset.
func WithPlugin(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Coin.Plugin = name
	}
}

// WithStubbedConverter writes a dcm2niix stub that exits with code and
// prepends its directory to PATH.
func WithStubbedConverter(code int) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\necho 'Chris Rorden dcm2niiX version v1.0.20240202'\nexit " + strconv.Itoa(code) + "\n")
		target := filepath.Join(binDir, b.cfg.Converter.Binary)
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", target, err)
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Ledger.Path)
}
