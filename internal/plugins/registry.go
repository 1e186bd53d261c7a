package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bidskit/internal/bidsmap"
	"bidskit/internal/services"
	"bidskit/internal/sidecar"
)

// Preset describes one plugin.
type Preset struct {
	Name        string
	Description string
	// ScannerFixes enables the Philips sidecar fixes in the post pass.
	ScannerFixes bool
	// SliceTiming fills in multiband slice timing for func runs.
	SliceTiming bool
	// DummyGradients writes placeholder bval/bvec files for dwi runs the
	// converter produced no gradient table for.
	DummyGradients bool
}

var registry = map[string]Preset{
	"dcm2niix2bids": {
		Description: "dcm2niix conversion with postfix reconciliation and fieldmap post pass",
	},
	"philips2bids": {
		Description:    "dcm2niix2bids plus Philips timing keys and phase encoding direction",
		ScannerFixes:   true,
		DummyGradients: true,
	},
	"postfixphilips": {
		Description:    "philips2bids plus multiband slice timing and default task names",
		ScannerFixes:   true,
		SliceTiming:    true,
		DummyGradients: true,
	},
}

// Names returns the registered preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named preset. Names are case insensitive.
func Lookup(name string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	p, ok := registry[key]
	if !ok {
		return Preset{}, services.Wrap(services.ErrConfiguration, "plugins", "lookup",
			fmt.Sprintf("unknown plugin %q (available: %s)", name, strings.Join(Names(), ", ")), nil)
	}
	p.Name = key
	return p, nil
}

// PostPassOptions builds the sidecar post pass settings for this preset.
func (p Preset) PostPassOptions(opts bidsmap.PluginOptions) sidecar.PostPassOptions {
	return sidecar.PostPassOptions{
		ScannerFixes:    p.ScannerFixes,
		SliceTiming:     p.SliceTiming,
		MultibandFactor: opts.MultibandFactor,
		RepetitionTime:  opts.RepetitionTime,
	}
}

// Validate rejects plugin options the coiner cannot honour. The output
// folder and file name are always chosen by the coiner.
func (p Preset) Validate(opts bidsmap.PluginOptions) error {
	for _, field := range strings.Fields(opts.Args) {
		switch field {
		case "-f", "-o":
			return services.Wrap(services.ErrConfiguration, "plugins", "validate",
				fmt.Sprintf("%s: args must not contain %s", p.Name, field), nil)
		}
	}
	if opts.MultibandFactor < 0 || opts.RepetitionTime < 0 {
		return services.Wrap(services.ErrConfiguration, "plugins", "validate",
			fmt.Sprintf("%s: multiband_factor and repetition_time must not be negative", p.Name), nil)
	}
	return nil
}

// VersionChecker runs the converter's version query.
type VersionChecker interface {
	Check(ctx context.Context) (string, error)
}

// Test validates the options of the named plugin and runs the converter
// once. It returns the converter version.
func Test(ctx context.Context, name string, opts bidsmap.PluginOptions, checker VersionChecker) (string, error) {
	p, err := Lookup(name)
	if err != nil {
		return "", err
	}
	if err := p.Validate(opts); err != nil {
		return "", err
	}
	if checker == nil {
		return "", services.Wrap(services.ErrConfiguration, "plugins", "test", "no converter configured", nil)
	}
	return checker.Check(ctx)
}
