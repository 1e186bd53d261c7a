package sidecar

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bidskit/internal/logging"
	"bidskit/internal/nifti"
	"bidskit/internal/services"
)

const (
	stagePostPass = "sidecar"

	// DefaultMultibandFactor and DefaultRepetitionTime describe the
	// multiband EPI protocol the slice timing fallback was built for.
	DefaultMultibandFactor = 3
	DefaultRepetitionTime  = 1.5
)

// PostPassOptions selects the session level patches.
type PostPassOptions struct {
	// ScannerFixes promotes Estimated* timing keys, fills in a missing
	// PhaseEncodingDirection and a missing func TaskName.
	ScannerFixes bool
	// SliceTiming writes SliceTiming into func sidecars that lack it.
	SliceTiming     bool
	MultibandFactor int
	// RepetitionTime is used when neither the sidecar nor the image header
	// carries one.
	RepetitionTime float64
}

// PostPass patches the sidecars of one coined session once every datatype
// has been converted, so fieldmap searches see all target images.
type PostPass struct {
	logger *slog.Logger
	opts   PostPassOptions
}

func NewPostPass(logger *slog.Logger, opts PostPassOptions) *PostPass {
	if opts.MultibandFactor <= 0 {
		opts.MultibandFactor = DefaultMultibandFactor
	}
	if opts.RepetitionTime <= 0 {
		opts.RepetitionTime = DefaultRepetitionTime
	}
	return &PostPass{logger: logging.NewComponentLogger(logger, "sidecar"), opts: opts}
}

// Run patches the fmap, func and dwi sidecars below sessionDir. Paths written
// into IntendedFor are relative to subjectDir. Problems with a single
// sidecar are logged and do not stop the pass; the returned list holds the
// sidecars that were saved.
func (p *PostPass) Run(ctx context.Context, sessionDir, subjectDir string) ([]string, error) {
	logger := logging.WithContext(services.WithStage(ctx, stagePostPass), p.logger)
	if !dirExists(sessionDir) {
		return nil, services.Wrap(services.ErrNotFound, stagePostPass, "open session", sessionDir, nil)
	}

	var saved []string
	for _, datatype := range []string{"fmap", "func", "dwi"} {
		files, err := filepath.Glob(filepath.Join(sessionDir, datatype, "sub-*.json"))
		if err != nil {
			return saved, services.Wrap(services.ErrValidation, stagePostPass, "list sidecars", datatype, err)
		}
		sort.Strings(files)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return saved, err
			}
			doc, err := Load(path)
			if err != nil {
				logging.WarnWithContext(logger, "sidecar not readable", "sidecar_unreadable",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix or remove the JSON file and coin the session again"),
				)
				continue
			}
			p.patch(logger, datatype, sessionDir, subjectDir, doc)
			if err := doc.Save(); err != nil {
				return saved, services.Wrap(services.ErrTransient, stagePostPass, "save sidecar", path, err)
			}
			saved = append(saved, path)
		}
	}
	return saved, nil
}

func (p *PostPass) patch(logger *slog.Logger, datatype, sessionDir, subjectDir string, doc *Document) {
	name := filepath.Base(doc.Path())
	if p.opts.ScannerFixes {
		for _, key := range PromoteEstimates(doc) {
			logger.Debug("promoted estimated timing", logging.String("sidecar", name), logging.String("key", key))
		}
		if value, assumed, err := EnsurePhaseEncoding(doc); err != nil {
			logger.Error("phase encoding direction not written", logging.String("sidecar", name), logging.Error(err))
		} else if assumed {
			logging.WarnWithContext(logger, "assumed phase encoding direction", "phase_encoding_assumed",
				logging.String("sidecar", name),
				logging.String("value", value),
				logging.String(logging.FieldErrorHint, "add AP or PA to the series description or set PhaseEncodingDirection in the bidsmap meta"),
			)
		}
	}

	switch datatype {
	case "fmap":
		p.intendedFor(logger, sessionDir, subjectDir, doc)
		if strings.HasSuffix(name, "_phasediff.json") {
			if err := ApplyEchoTimes(doc); err != nil {
				logging.ErrorWithContext(logger, "phasediff echo times not set", "echo_times_invalid",
					logging.String("sidecar", name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the magnitude1 and magnitude2 sidecars of this fieldmap"),
				)
			}
		}
	case "func":
		if p.opts.ScannerFixes {
			if added, err := EnsureTaskName(doc); err != nil {
				logger.Error("task name not written", logging.String("sidecar", name), logging.Error(err))
			} else if added {
				logging.WarnWithContext(logger, "task name missing", "task_name_default",
					logging.String("sidecar", name),
					logging.String("value", DefaultTaskName),
					logging.String(logging.FieldErrorHint, "set the task entity of this run in the bidsmap"),
				)
			}
		}
		if p.opts.SliceTiming && !doc.Has("SliceTiming") {
			p.sliceTiming(logger, doc)
		}
	}
}

func (p *PostPass) intendedFor(logger *slog.Logger, sessionDir, subjectDir string, doc *Document) {
	name := filepath.Base(doc.Path())
	value, ok := IntendedForOf(doc)
	if !ok || value.Empty() {
		logging.WarnWithContext(logger, "empty IntendedFor fieldmap value", "intendedfor_empty",
			logging.String("sidecar", name),
			logging.String(logging.FieldErrorHint, "add an IntendedFor meta value to the fieldmap run in the bidsmap"),
		)
		return
	}
	if value.IsList() {
		return
	}
	selectors := value.Selectors()
	matches, err := SearchIntendedFor(sessionDir, subjectDir, selectors)
	if err != nil {
		logger.Error("IntendedFor search failed", logging.String("sidecar", name), logging.Error(err))
		return
	}
	if len(matches) == 0 {
		logging.WarnWithContext(logger, "IntendedFor search gave no results", "intendedfor_no_match",
			logging.String("sidecar", name),
			logging.String("selectors", strings.Join(selectors, ",")),
			logging.String(logging.FieldErrorHint, "check the IntendedFor selectors against the coined file names"),
		)
		_ = doc.Set("IntendedFor", "")
		return
	}
	logger.Info("adding IntendedFor", logging.String("sidecar", name), logging.Int("images", len(matches)))
	_ = doc.Set("IntendedFor", Multiple(matches))
}

func (p *PostPass) sliceTiming(logger *slog.Logger, doc *Document) {
	name := filepath.Base(doc.Path())
	image, header, err := imageHeader(doc.Path())
	if err != nil {
		logging.WarnWithContext(logger, "image not readable for slice timing", "slice_timing_skipped",
			logging.String("sidecar", name),
			logging.Error(err),
		)
		return
	}
	tr, ok := doc.Float("RepetitionTime")
	if !ok || tr <= 0 {
		if tr = header.RepetitionTime(); tr <= 0 {
			tr = p.opts.RepetitionTime
		}
	}
	timing, err := MultibandSliceTiming(header.Slices(), p.opts.MultibandFactor, tr)
	if err != nil {
		logging.WarnWithContext(logger, "cannot determine slice timing", "slice_timing_skipped",
			logging.String("sidecar", name),
			logging.String("image", filepath.Base(image)),
			logging.Error(err),
		)
		return
	}
	logger.Info("adding slice timing",
		logging.String("sidecar", name),
		logging.Int("slices", header.Slices()),
		logging.Float64("tr", tr),
	)
	_ = doc.Set("SliceTiming", timing)
}

func imageHeader(sidecarPath string) (string, *nifti.Header, error) {
	stem := strings.TrimSuffix(sidecarPath, ".json")
	for _, ext := range []string{".nii.gz", ".nii"} {
		path := stem + ext
		if _, err := os.Stat(path); err != nil {
			continue
		}
		header, err := nifti.ReadHeader(path)
		return path, header, err
	}
	return "", nil, errors.New("no NIfTI image next to " + filepath.Base(sidecarPath))
}
