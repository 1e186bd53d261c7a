package coiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bidskit/internal/bids"
	"bidskit/internal/bidsmap"
	"bidskit/internal/ledger"
	"bidskit/internal/logging"
	"bidskit/internal/reconcile"
	"bidskit/internal/scans"
	"bidskit/internal/services"
	"bidskit/internal/services/dcm2niix"
	"bidskit/internal/sidecar"
	"bidskit/internal/sourcedata"
)

// staleExtensions are removed before a static run name is converted again.
var staleExtensions = []string{".nii.gz", ".nii", ".json", ".bval", ".bvec", ".tsv.gz"}

// sessionRun holds the state of one raw session while it is coined.
type sessionRun struct {
	coiner     *Coiner
	converter  dcm2niix.Converter
	engine     *reconcile.Engine
	logger     *slog.Logger
	rawDir     string
	bidsFolder string
	summary    *Summary

	format  *bidsmap.Format
	kind    sourcedata.Format
	subject string
	session string
	outDir  string
	first   *sourcedata.Source
	scans   *scans.Scans
}

// coin converts every acquisition of the session. It reports whether the
// session produced a BIDS folder.
func (s *sessionRun) coin(ctx context.Context) bool {
	logger := logging.WithContext(ctx, s.logger).With(logging.String("raw_session", s.rawDir))

	kind, sources, err := sourcedata.Discover(s.rawDir)
	if err != nil {
		logging.WarnWithContext(logger, "no source data in session", "session_empty",
			logging.Error(err),
			logging.String(logging.FieldImpact, "session skipped"),
		)
		return false
	}
	s.kind = kind
	s.format = s.coiner.bmap.Format(kind)
	if s.format == nil {
		logging.WarnWithContext(logger, "bidsmap has no section for the source format", "format_unmapped",
			logging.String("format", string(kind)),
			logging.String(logging.FieldErrorHint, "add a ["+string(kind)+"] section to the bidsmap"),
			logging.String(logging.FieldImpact, "session skipped"),
		)
		return false
	}

	for _, path := range sources {
		src, err := sourcedata.Open(kind, path)
		if err == nil {
			s.first = src
			break
		}
	}
	s.subject, s.session = s.format.Labels(s.first)
	if s.subject == "" {
		logging.WarnWithContext(logger, "no subject label for session", "subject_unresolved",
			logging.String(logging.FieldErrorHint, "check the subject expression of the bidsmap"),
			logging.String(logging.FieldImpact, "session skipped"),
		)
		return false
	}

	ctx = services.WithSession(ctx, strings.Trim(s.subject+"/"+s.session, "/"))
	logger = logging.WithContext(ctx, s.logger)

	s.outDir = filepath.Join(s.bidsFolder, s.subject, s.session)
	if info, err := os.Stat(s.outDir); err == nil && info.IsDir() {
		logging.WarnWithContext(logger, "existing BIDS session folder found", "session_exists",
			logging.String("folder", s.outDir),
			logging.String(logging.FieldErrorHint, "clean the session folder before re-running the coiner"),
			logging.String(logging.FieldImpact, "repeated acquisitions receive higher run indices"),
		)
	}
	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		logging.ErrorWithContext(logger, "cannot create BIDS session folder", "session_mkdir_failed",
			logging.String("folder", s.outDir), logging.Error(err))
		return false
	}

	scansPath := scans.ScansPath(s.outDir, s.subject, s.session)
	s.scans, err = scans.OpenScans(scansPath)
	if err != nil {
		logging.WarnWithContext(logger, "scans table not readable, starting a new one", "scans_unreadable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous acquisition times are dropped"),
		)
		s.scans = scans.NewScans(scansPath)
	}

	logger.Info("coining session",
		logging.String("format", string(kind)),
		logging.Int("acquisitions", len(sources)),
		logging.String("target", s.outDir),
	)
	for _, path := range sources {
		if err := ctx.Err(); err != nil {
			return true
		}
		acqCtx := services.WithAcquisition(ctx, path)
		outcome := s.acquisition(acqCtx, path)
		s.coiner.record(acqCtx, logging.WithContext(acqCtx, s.logger), s.summary, outcome)
	}

	s.finish(ctx, logger)
	return true
}

// acquisition converts one source folder or file.
func (s *sessionRun) acquisition(ctx context.Context, path string) Outcome {
	logger := logging.WithContext(ctx, s.logger)
	outcome := Outcome{Source: path, Subject: s.subject, Session: s.session}

	src, err := sourcedata.Open(s.kind, path)
	if err != nil {
		logging.WarnWithContext(logger, "source header not readable", "source_unreadable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "acquisition skipped"),
		)
		return s.fail(outcome, err)
	}

	run, ok := s.format.Match(src)
	if !ok {
		err := services.Wrap(services.ErrNotFound, "match", "bidsmap", "no run matches "+path, nil)
		logging.WarnWithContext(logger, "skipping unknown run", "run_unmatched",
			logging.String(logging.FieldErrorHint, "add a run for this acquisition to the bidsmap"),
			logging.String(logging.FieldImpact, "acquisition skipped"),
		)
		return s.fail(outcome, err)
	}
	outcome.Datatype = run.Datatype
	outcome.Suffix = run.Suffix()
	if run.Excluded() {
		logger.Info("leaving out excluded run")
		outcome.Status = ledger.StatusSkipped
		return outcome
	}
	if outcome.Suffix == "physio" {
		err := services.Wrap(services.ErrValidation, "match", "physio", "physiological logs are not converted", nil)
		logging.WarnWithContext(logger, "skipping physiological log", "physio_skipped",
			logging.String(logging.FieldErrorHint, "convert physiological recordings with a dedicated tool"),
			logging.String(logging.FieldImpact, "acquisition skipped"),
		)
		return s.fail(outcome, err)
	}

	desc := run.Descriptor(src)
	if missing := s.coiner.schema.Missing(desc); len(missing) > 0 {
		err := services.Wrap(services.ErrValidation, "match", "required entities",
			fmt.Sprintf("%s/%s run has no %s", run.Datatype, outcome.Suffix, strings.Join(missing, ", ")), nil)
		logging.WarnWithContext(logger, "run lacks required entities", "run_incomplete",
			logging.String("missing", strings.Join(missing, ",")),
			logging.String(logging.FieldErrorHint, "add the missing entities to the bids table of the bidsmap run"),
			logging.String(logging.FieldImpact, "acquisition skipped"),
		)
		return s.fail(outcome, err)
	}

	derivative := s.coiner.schema.IsDerivative(run.Datatype, outcome.Suffix)
	datatypeDir := filepath.Join(s.outDir, run.Datatype)
	if derivative {
		datatypeDir = filepath.Join(s.bidsFolder, "derivatives", manufacturer(s.kind, src), s.subject, s.session, run.Datatype)
	}
	if err := os.MkdirAll(datatypeDir, 0o755); err != nil {
		return s.fail(outcome, services.Wrap(services.ErrTransient, "convert", "create datatype folder", datatypeDir, err))
	}

	name := s.coiner.schema.Compose(s.subject, s.session, desc)
	dynamicRun := bidsmap.IsIndexPlaceholder(desc.Entities["run"])
	if dynamicRun {
		name = s.coiner.alloc.NextFrom(datatypeDir, name, "run", placeholderFloor(desc.Entities["run"]))
	}
	if bidsmap.IsIndexPlaceholder(desc.Entities["echo"]) {
		name = s.coiner.alloc.NextFrom(datatypeDir, name, "echo", placeholderFloor(desc.Entities["echo"]))
	}
	if !dynamicRun {
		s.removeStale(logger, run.Datatype, datatypeDir, name, !derivative)
	}
	logger.Info("processing acquisition",
		logging.String("datatype", run.Datatype),
		logging.String("name", name),
		logging.Bool("derivative", derivative),
	)

	convCtx := services.WithStage(ctx, "convert")
	err = s.converter.Convert(convCtx, dcm2niix.Request{
		Source:   src.Path,
		OutDir:   datatypeDir,
		Filename: name,
		Args:     s.coiner.pluginOpts.Args,
	})
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(convCtx, s.logger), "conversion failed", "convert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run the dcm2niix command from the log by hand to see the full error"),
		)
		return s.fail(outcome, err)
	}

	result, err := s.engine.Reconcile(ctx, reconcile.Acquisition{
		Dir:        datatypeDir,
		Base:       name,
		Run:        desc,
		Crop:       reconcile.CropMode(s.coiner.pluginOpts.Args),
		DynamicRun: dynamicRun,
	})
	if err != nil {
		return s.fail(outcome, err)
	}
	if len(result.Outputs) == 0 {
		return s.fail(outcome, services.Wrap(services.ErrExternalTool, "convert", "dcm2niix", "no images written for "+name, nil))
	}

	docs := s.patchSidecars(logger, run, desc, src, datatypeDir, result.JSONFiles)
	for _, image := range result.Outputs {
		if run.Datatype == "dwi" && s.coiner.preset.DummyGradients {
			s.ensureGradients(logger, datatypeDir, image)
		}
		if derivative {
			rel, err := filepath.Rel(s.bidsFolder, filepath.Join(datatypeDir, image))
			if err != nil {
				rel = filepath.Join(datatypeDir, image)
			}
			outcome.Outputs = append(outcome.Outputs, filepath.ToSlash(rel))
			continue
		}
		rel := filepath.ToSlash(filepath.Join(run.Datatype, image))
		outcome.Outputs = append(outcome.Outputs, rel)
		if !scans.Tracked(rel, s.coiner.bmap.Options.Bidsignore) {
			continue
		}
		stem, _ := bids.SplitExt(image)
		s.scans.Add(rel, s.acqTime(logger, docs[stem+".json"], src))
	}
	outcome.Status = ledger.StatusConverted
	return outcome
}

func (s *sessionRun) fail(outcome Outcome, err error) Outcome {
	outcome.Status = services.FailureStatus(err)
	outcome.Err = err
	return outcome
}

// removeStale deletes the outputs of an earlier conversion to the same
// static name. Their scans rows are dropped when tracked is set.
func (s *sessionRun) removeStale(logger *slog.Logger, datatype, dir, name string, tracked bool) {
	if _, err := os.Stat(filepath.Join(dir, name+".json")); err != nil {
		return
	}
	logging.WarnWithContext(logger, "output already exists and will be deleted", "stale_output",
		logging.String("name", name),
		logging.String(logging.FieldErrorHint, "use a dynamic run index (<<1>>) in the bidsmap to keep repeated acquisitions"),
		logging.String(logging.FieldImpact, "previous conversion replaced"),
	)
	for _, ext := range staleExtensions {
		path := filepath.Join(dir, name+ext)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove stale output", logging.String("path", path), logging.Error(err))
			continue
		}
		if tracked {
			s.scans.Remove(filepath.ToSlash(filepath.Join(datatype, name+ext)))
		}
	}
}

// manufacturer names the derivatives folder of a source.
func manufacturer(kind sourcedata.Format, src *sourcedata.Source) string {
	name := "Philips Medical Systems"
	if kind != sourcedata.FormatPAR {
		name = src.Attr("Manufacturer")
	}
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "")
	if name == "" {
		return "UNKNOWN"
	}
	return name
}

func placeholderFloor(value string) int {
	inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(value), "<<"), ">>")
	n, err := strconv.Atoi(inner)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// finish writes the session tables and runs the sidecar post pass.
func (s *sessionRun) finish(ctx context.Context, logger *slog.Logger) {
	if err := s.scans.Save(); err != nil {
		logging.ErrorWithContext(logger, "failed to write scans table", "scans_write_failed",
			logging.String("path", s.scans.Path()), logging.Error(err))
	} else {
		logger.Info("wrote acquisition times", logging.String("path", s.scans.Path()), logging.Int("rows", s.scans.Len()))
	}

	post := sidecar.NewPostPass(s.logger, s.coiner.preset.PostPassOptions(s.coiner.pluginOpts))
	saved, err := post.Run(ctx, s.outDir, filepath.Join(s.bidsFolder, s.subject))
	if err != nil {
		logging.ErrorWithContext(logger, "sidecar post pass failed", "post_pass_failed", logging.Error(err))
	} else {
		logger.Debug("sidecar post pass done", logging.Int("sidecars", len(saved)))
	}

	if s.coiner.pluginOpts.Anonymize {
		return
	}
	var header scans.AttributeReader
	if s.first != nil {
		header = s.first
	}
	written, err := scans.UpdateParticipants(s.bidsFolder, s.subject, scans.CollectPersonals(s.session, header))
	if err != nil {
		logging.WarnWithContext(logger, "failed to update participants table", "participants_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "participants.tsv not updated"),
		)
		return
	}
	if written {
		logger.Info("updated participants table", logging.String("subject", s.subject))
	}
}
