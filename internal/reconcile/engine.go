package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bidskit/internal/bids"
	"bidskit/internal/fileutil"
	"bidskit/internal/logging"
	"bidskit/internal/runindex"
	"bidskit/internal/services"
)

const stageReconcile = "reconcile"

// Acquisition describes one converter invocation to reconcile.
type Acquisition struct {
	// Dir is the datatype folder dcm2niix wrote into.
	Dir string
	// Base is the name passed to dcm2niix with -f.
	Base string
	Run  bids.Run
	// Crop replaces uncropped images with their _Crop_ copies first.
	Crop bool
	// DynamicRun re-allocates the run index of every renamed image.
	DynamicRun bool
}

// Rename records one file move.
type Rename struct {
	From string
	To   string
}

// Result summarizes a reconciled acquisition. File names are relative to Dir.
type Result struct {
	Resolutions []Resolution
	Outputs     []string
	JSONFiles   []string
	Renames     []Rename
	Warnings    int
}

// Engine applies resolutions on disk.
type Engine struct {
	resolver *Resolver
	alloc    *runindex.Allocator
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllocator swaps the run index allocator.
func WithAllocator(alloc *runindex.Allocator) Option {
	return func(e *Engine) {
		if alloc != nil {
			e.alloc = alloc
		}
	}
}

// New constructs an Engine for the given entity table.
func New(schema *bids.Schema, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		resolver: NewResolver(schema),
		alloc:    runindex.New(),
		logger:   logging.NewComponentLogger(logger, "reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolver exposes the pure name resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

type plan struct {
	resolution Resolution
	current    string
	target     string
	sidecars   []string
}

// Reconcile renames the converter output of acq into final BIDS names.
// Per-file problems are logged; only filesystem failures are returned.
func (e *Engine) Reconcile(ctx context.Context, acq Acquisition) (*Result, error) {
	ctx = services.WithStage(ctx, stageReconcile)
	logger := logging.WithContext(ctx, e.logger)
	result := &Result{}

	names, err := listFiles(acq.Dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, stageReconcile, "list output", acq.Dir, err)
	}

	if acq.Crop {
		replaced, err := e.applyCrops(logger, acq, names, result)
		if err != nil {
			return nil, err
		}
		if replaced {
			if names, err = listFiles(acq.Dir); err != nil {
				return nil, services.Wrap(services.ErrNotFound, stageReconcile, "list output", acq.Dir, err)
			}
		}
	}

	siblings := Siblings(acq.Base, names)
	if len(siblings) == 0 {
		result.Warnings++
		logging.WarnWithContext(logger, "converter produced no images",
			"no_converter_output",
			logging.String("dir", acq.Dir),
			logging.String("base", acq.Base),
			logging.String(logging.FieldErrorHint, "check the dcm2niix output above for conversion errors"),
			logging.String(logging.FieldImpact, "acquisition has no output files"),
		)
		return result, nil
	}

	resolutions := e.resolver.Resolve(acq.Base, acq.Run, siblings)
	result.Resolutions = resolutions
	plans := make([]*plan, 0, len(resolutions))
	for _, res := range resolutions {
		for _, note := range res.Notes {
			logger.Info("postfix diagnostic", logging.String("file", res.Source), logging.String("detail", note))
		}
		plans = append(plans, &plan{
			resolution: res,
			current:    res.Source,
			target:     res.Target,
			sidecars:   sidecarsOf(res.Source, names),
		})
	}

	if err := e.apply(logger, acq, plans, result); err != nil {
		return result, err
	}
	sort.Strings(result.Outputs)
	sort.Strings(result.JSONFiles)
	return result, nil
}

func (e *Engine) apply(logger *slog.Logger, acq Acquisition, plans []*plan, result *Result) error {
	claimed := make(map[string]struct{}, len(plans))
	pending := make(map[string]*plan, len(plans))
	for _, p := range plans {
		pending[p.current] = p
	}

	for _, p := range plans {
		delete(pending, p.current)
		target := p.target
		if acq.DynamicRun && target != p.current {
			target = e.reallocateRun(acq.Dir, target)
		}
		if _, taken := claimed[target]; taken {
			bumped := bumpIndex(e.resolver.schema, target, claimed)
			result.Warnings++
			logging.WarnWithContext(logger, "target name already used by this acquisition",
				"name_collision",
				logging.String("file", p.current),
				logging.String("target", target),
				logging.String("renamed_to", bumped),
				logging.String(logging.FieldErrorHint, "check the run and echo entities in the bidsmap"),
			)
			target = bumped
		}
		claimed[target] = struct{}{}

		if target == p.current {
			e.record(p, target, result)
			continue
		}
		if other, ok := pending[target]; ok {
			if err := e.park(acq.Dir, other); err != nil {
				return err
			}
			delete(pending, target)
			pending[other.current] = other
		} else if fileExists(filepath.Join(acq.Dir, target)) {
			result.Warnings++
			logging.WarnWithContext(logger, "overwriting existing file",
				"overwrite_existing",
				logging.String("file", target),
				logging.String(logging.FieldErrorHint, "check your results carefully; clean the session folder before re-running"),
				logging.String(logging.FieldImpact, "output from a previous acquisition was replaced"),
			)
		}

		if err := e.move(acq.Dir, p, target); err != nil {
			return err
		}
		logger.Info("renamed converter output",
			logging.String("from", p.resolution.Source),
			logging.String("to", target),
			logging.Any("postfixes", tokensOf(p.resolution.Postfixes)),
		)
		result.Renames = append(result.Renames, Rename{From: p.resolution.Source, To: target})
		e.record(p, target, result)
	}

	for _, p := range plans {
		if !hasExt(p.sidecars, ".json") {
			result.Warnings++
			logging.WarnWithContext(logger, "sidecar not found",
				"missing_sidecar",
				logging.String("file", p.resolution.Source),
				logging.String(logging.FieldErrorHint, "run dcm2niix with -b y to write JSON sidecars"),
				logging.String(logging.FieldImpact, "metadata for this image is not patched"),
			)
		}
	}
	return nil
}

func (e *Engine) record(p *plan, target string, result *Result) {
	p.current = target
	result.Outputs = append(result.Outputs, target)
	if hasExt(p.sidecars, ".json") {
		stem, _ := bids.SplitExt(target)
		result.JSONFiles = append(result.JSONFiles, stem+".json")
	}
}

// reallocateRun keeps the run index when it is still free and moves it past
// the highest index in use otherwise.
func (e *Engine) reallocateRun(dir, target string) string {
	value := bids.GetValue(target, "run")
	current, err := strconv.Atoi(value)
	if err != nil {
		current = 1
	}
	return e.alloc.NextFrom(dir, target, "run", current)
}

// move renames the image of p and every sidecar sharing its stem.
func (e *Engine) move(dir string, p *plan, target string) error {
	fromStem, fromExt := bids.SplitExt(p.current)
	toStem, _ := bids.SplitExt(target)
	if err := fileutil.Move(filepath.Join(dir, p.current), filepath.Join(dir, toStem+fromExt)); err != nil {
		return services.Wrap(services.ErrTransient, stageReconcile, "rename", p.current, err)
	}
	for _, ext := range p.sidecars {
		from := filepath.Join(dir, fromStem+ext)
		if err := fileutil.Move(from, filepath.Join(dir, toStem+ext)); err != nil {
			return services.Wrap(services.ErrTransient, stageReconcile, "rename sidecar", fromStem+ext, err)
		}
	}
	return nil
}

// park moves a not yet processed sibling out of the way of an earlier one.
func (e *Engine) park(dir string, p *plan) error {
	stem, ext := bids.SplitExt(p.current)
	parked := ".parked-" + stem + ext
	if err := e.move(dir, p, parked); err != nil {
		return err
	}
	p.current = parked
	return nil
}

func (e *Engine) applyCrops(logger *slog.Logger, acq Acquisition, names []string, result *Result) (bool, error) {
	crops := CropTargets(acq.Base, names)
	for _, crop := range crops {
		target := filepath.Join(acq.Dir, crop.Target)
		if fileExists(target) {
			result.Warnings++
			logging.WarnWithContext(logger, "replacing uncropped output with cropped image",
				"crop_replace",
				logging.String("from", crop.Source),
				logging.String("to", crop.Target),
				logging.String(logging.FieldErrorHint, "remove -x y from the converter arguments to keep uncropped images"),
				logging.String(logging.FieldImpact, "uncropped image deleted"),
			)
		}
		if err := fileutil.Move(filepath.Join(acq.Dir, crop.Source), target); err != nil {
			return false, services.Wrap(services.ErrTransient, stageReconcile, "replace cropped", crop.Source, err)
		}
		result.Renames = append(result.Renames, Rename{From: crop.Source, To: crop.Target})
	}
	return len(crops) > 0, nil
}

// Siblings returns the image files among names that dcm2niix derived from base.
func Siblings(base string, names []string) []string {
	var out []string
	for _, name := range names {
		stem, ext := bids.SplitExt(name)
		if !isImage(ext) || !strings.HasPrefix(stem, base) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isImage(ext string) bool {
	switch strings.ToLower(ext) {
	case ".nii", ".nii.gz":
		return true
	}
	return false
}

// sidecarsOf lists the extensions of non-image files sharing the stem of image.
func sidecarsOf(image string, names []string) []string {
	stem, imageExt := bids.SplitExt(image)
	var exts []string
	for _, name := range names {
		s, ext := bids.SplitExt(name)
		if s != stem || ext == imageExt || isImage(ext) {
			continue
		}
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func hasExt(exts []string, want string) bool {
	for _, ext := range exts {
		if ext == want {
			return true
		}
	}
	return false
}

// bumpIndex makes target unique among claimed by raising its run index, or
// its echo index when it has no run, or by adding run-2.
func bumpIndex(schema *bids.Schema, target string, claimed map[string]struct{}) string {
	key := "run"
	if bids.GetValue(target, "run") == "" && bids.GetValue(target, "echo") != "" {
		key = "echo"
	}
	n, err := strconv.Atoi(bids.GetValue(target, key))
	if err != nil || n < 1 {
		n = 1
	}
	for {
		n++
		candidate := schema.InsertEntity(target, key, strconv.Itoa(n))
		if _, taken := claimed[candidate]; !taken {
			return candidate
		}
	}
}

func tokensOf(postfixes []Postfix) []string {
	out := make([]string, 0, len(postfixes))
	for _, p := range postfixes {
		out = append(out, p.Token+"="+p.Role.String())
	}
	return out
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// String renders a rename for logs and CLI output.
func (r Rename) String() string {
	return fmt.Sprintf("%s -> %s", r.From, r.To)
}
