package config

const (
	defaultLogFormat = "console"
	defaultLogLevel  = "info"
	defaultConverter = "dcm2niix"
	defaultPlugin    = "dcm2niix2bids"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			DatasetLog: true,
		},
		Converter: Converter{
			Binary: defaultConverter,
		},
		Ledger: Ledger{
			Enabled: true,
		},
		Coin: Coin{
			Plugin: defaultPlugin,
			Lock:   true,
		},
	}
}
