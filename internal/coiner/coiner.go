package coiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"bidskit/internal/bids"
	"bidskit/internal/bidsmap"
	"bidskit/internal/config"
	"bidskit/internal/ledger"
	"bidskit/internal/logging"
	"bidskit/internal/plugins"
	"bidskit/internal/reconcile"
	"bidskit/internal/runindex"
	"bidskit/internal/services"
	"bidskit/internal/services/dcm2niix"
	"bidskit/internal/sourcedata"
)

// ErrLocked is returned when another coin run holds the dataset lock.
var ErrLocked = errors.New("dataset is locked by another coin run")

// Outcome is the result of one acquisition.
type Outcome struct {
	Source   string
	Subject  string
	Session  string
	Datatype string
	Suffix   string
	Status   ledger.Status
	// Outputs are image paths relative to the session folder, or to the
	// BIDS folder for derivatives.
	Outputs []string
	Err     error
}

// Summary describes a finished coin run.
type Summary struct {
	RunID    string
	Sessions int
	Outcomes []Outcome
}

// Counts tallies the outcomes per status.
func (s *Summary) Counts() map[ledger.Status]int {
	counts := map[ledger.Status]int{}
	for _, o := range s.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Option configures a Coiner.
type Option func(*Coiner)

// WithConverter replaces the dcm2niix client (primarily for tests).
func WithConverter(conv dcm2niix.Converter) Option {
	return func(c *Coiner) {
		if conv != nil {
			c.converter = conv
		}
	}
}

// WithRecorder stores every outcome in rec.
func WithRecorder(rec ledger.Recorder) Option {
	return func(c *Coiner) {
		c.recorder = rec
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coiner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProgress registers a callback invoked after each acquisition.
func WithProgress(fn func(Outcome)) Option {
	return func(c *Coiner) {
		c.progress = fn
	}
}

// WithSubjects restricts the run to the listed subject folders.
func WithSubjects(subjects ...string) Option {
	return func(c *Coiner) {
		c.subjects = append(c.subjects, subjects...)
	}
}

// Coiner converts raw sessions with one plugin preset.
type Coiner struct {
	cfg        *config.Config
	bmap       *bidsmap.Bidsmap
	schema     *bids.Schema
	preset     plugins.Preset
	pluginOpts bidsmap.PluginOptions
	converter  dcm2niix.Converter
	alloc      *runindex.Allocator
	recorder   ledger.Recorder
	logger     *slog.Logger
	progress   func(Outcome)
	subjects   []string

	mu sync.Mutex
}

// New validates the plugin options of the configured preset and builds the
// converter client from the bidsmap.
func New(cfg *config.Config, bmap *bidsmap.Bidsmap, opts ...Option) (*Coiner, error) {
	if cfg == nil || bmap == nil {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "setup", "config and bidsmap are required", nil)
	}
	preset, err := plugins.Lookup(cfg.Coin.Plugin)
	if err != nil {
		return nil, err
	}
	pluginOpts, ok := bmap.Plugin(preset.Name)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "setup",
			fmt.Sprintf("bidsmap %s has no options for plugin %q", bmap.Path(), preset.Name), nil)
	}
	if err := preset.Validate(pluginOpts); err != nil {
		return nil, err
	}
	base, err := bids.LoadSchema()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "load entity table", "", err)
	}
	schema, err := bmap.Schema(base)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "custom entities", bmap.Path(), err)
	}

	c := &Coiner{
		cfg:        cfg,
		bmap:       bmap,
		schema:     schema,
		preset:     preset,
		pluginOpts: pluginOpts,
		alloc:      runindex.New(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.converter == nil {
		if _, err := c.newClient(c.logger); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Coiner) newClient(logger *slog.Logger) (*dcm2niix.Client, error) {
	return dcm2niix.New(c.pluginOpts.Path, c.cfg.Converter.Binary, c.cfg.ConverterTimeout(), dcm2niix.WithLogger(logger))
}

// Preset returns the plugin preset in use.
func (c *Coiner) Preset() plugins.Preset {
	return c.preset
}

// Run coins every session below rawFolder into bidsFolder.
func (c *Coiner) Run(ctx context.Context, rawFolder, bidsFolder string) (*Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(config.DatasetDir(bidsFolder), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "create dataset folder", bidsFolder, err)
	}
	unlock, err := c.lock(bidsFolder)
	if err != nil {
		return nil, err
	}
	defer unlock()

	summary := &Summary{RunID: uuid.NewString()}
	ctx = services.WithRunID(ctx, summary.RunID)

	base := c.logger
	if c.cfg.Logging.DatasetLog {
		handler, closer, err := logging.NewDatasetHandler(config.DatasetDir(bidsFolder), c.cfg.Logging.Level)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "coin", "open dataset log", bidsFolder, err)
		}
		defer closer.Close()
		base = logging.TeeLogger(base, handler)
	}
	componentLogger := logging.NewComponentLogger(base, "coiner")
	logger := logging.WithContext(ctx, componentLogger)

	converter := c.converter
	if converter == nil {
		client, err := c.newClient(base)
		if err != nil {
			return nil, err
		}
		converter = client
	}
	engine := reconcile.New(c.schema, base, reconcile.WithAllocator(c.alloc))

	sessions, err := sourcedata.Sessions(rawFolder, c.subjects)
	if err != nil {
		return nil, err
	}
	logger.Info("coin run started",
		logging.String("raw", rawFolder),
		logging.String("bids", bidsFolder),
		logging.String("plugin", c.preset.Name),
		logging.Int("sessions", len(sessions)),
	)
	if len(sessions) == 0 {
		logging.WarnWithContext(logger, "no sub-* folders found", "no_sessions",
			logging.String("raw", rawFolder),
			logging.String(logging.FieldErrorHint, "point the raw folder at the parent of the sub-* folders"),
		)
	}

	for _, sessionDir := range sessions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		run := &sessionRun{
			coiner:     c,
			converter:  converter,
			engine:     engine,
			logger:     componentLogger,
			rawDir:     sessionDir,
			bidsFolder: bidsFolder,
			summary:    summary,
		}
		if run.coin(ctx) {
			summary.Sessions++
		}
	}

	counts := summary.Counts()
	logger.Info("coin run finished",
		logging.Int("sessions", summary.Sessions),
		logging.Int(string(ledger.StatusConverted), counts[ledger.StatusConverted]),
		logging.Int(string(ledger.StatusFailed), counts[ledger.StatusFailed]),
		logging.Int(string(ledger.StatusSkipped), counts[ledger.StatusSkipped]),
	)
	return summary, nil
}

func (c *Coiner) lock(bidsFolder string) (func(), error) {
	if !c.cfg.Coin.Lock {
		return func() {}, nil
	}
	path := c.cfg.LockPath(bidsFolder)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "coin", "acquire lock", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logging.NewComponentLogger(c.logger, "coiner").Warn("failed to release dataset lock", logging.String("lock", path), logging.Error(err))
		}
	}, nil
}

func (c *Coiner) record(ctx context.Context, logger *slog.Logger, summary *Summary, outcome Outcome) {
	summary.Outcomes = append(summary.Outcomes, outcome)
	if c.recorder != nil {
		rec := &ledger.Record{
			RunID:    summary.RunID,
			Subject:  outcome.Subject,
			Session:  outcome.Session,
			Source:   outcome.Source,
			Datatype: outcome.Datatype,
			Suffix:   outcome.Suffix,
			Status:   outcome.Status,
			Outputs:  outcome.Outputs,
		}
		if outcome.Err != nil {
			rec.Error = outcome.Err.Error()
		}
		if err := c.recorder.Record(ctx, rec); err != nil {
			logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
				logging.String("source", outcome.Source),
				logging.Error(err),
				logging.String(logging.FieldImpact, "acquisition missing from bidskit history"),
			)
		}
	}
	if c.progress != nil {
		c.progress(outcome)
	}
}
