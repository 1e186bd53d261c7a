package coiner

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"bidskit/internal/bids"
	"bidskit/internal/bidsmap"
	"bidskit/internal/fileutil"
	"bidskit/internal/logging"
	"bidskit/internal/scans"
	"bidskit/internal/sidecar"
	"bidskit/internal/sourcedata"
)

const (
	dummyBval = "0\n"
	dummyBvec = "0\n0\n0\n"
)

// patchSidecars adds the run level metadata to every sidecar of the
// acquisition. The loaded documents are returned by file name.
func (s *sessionRun) patchSidecars(logger *slog.Logger, run *bidsmap.Run, desc bids.Run, src *sourcedata.Source, dir string, jsonFiles []string) map[string]*sidecar.Document {
	docs := make(map[string]*sidecar.Document, len(jsonFiles))
	meta := run.MetaValues(src)
	for _, name := range jsonFiles {
		path := filepath.Join(dir, name)
		doc, err := sidecar.Load(path)
		if err != nil {
			logging.WarnWithContext(logger, "sidecar not readable", "sidecar_unreadable",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "run metadata not added"),
			)
			continue
		}
		if err := sidecar.ApplyRunMeta(doc, desc.Datatype, desc.Entities, meta); err != nil {
			logging.WarnWithContext(logger, "run metadata not applied", "sidecar_meta_failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		if err := doc.Save(); err != nil {
			logging.WarnWithContext(logger, "failed to save sidecar", "sidecar_write_failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		docs[name] = doc
	}
	return docs
}

// ensureGradients writes placeholder bval/bvec files next to a dwi image
// that the converter gave no gradient table.
func (s *sessionRun) ensureGradients(logger *slog.Logger, dir, image string) {
	stem, _ := bids.SplitExt(image)
	for ext, content := range map[string]string{".bval": dummyBval, ".bvec": dummyBvec} {
		path := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := fileutil.WriteAtomic(path, []byte(content), 0o644); err != nil {
			logging.WarnWithContext(logger, "failed to write placeholder gradient file", "gradients_write_failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		logging.WarnWithContext(logger, "wrote placeholder gradient file", "gradients_dummy",
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "replace the placeholder with the real gradient table"),
			logging.String(logging.FieldImpact, "dwi run carries b=0 placeholder gradients"),
		)
	}
}

// acqTime picks the acquisition time from the sidecar, then from the source
// header and finally from the PAR exam date.
func (s *sessionRun) acqTime(logger *slog.Logger, doc *sidecar.Document, src *sourcedata.Source) string {
	var candidates []string
	if doc != nil {
		if v, ok := doc.String("AcquisitionTime"); ok {
			candidates = append(candidates, v)
		}
	}
	candidates = append(candidates, src.Attr("AcquisitionTime"), src.Attr("exam_date"))
	acq := scans.AcquisitionTime(candidates...)
	if acq == scans.NA {
		logging.WarnWithContext(logger, "acquisition time not parseable", "acq_time_unknown",
			logging.String("source", src.Path),
			logging.String(logging.FieldImpact, "scans.tsv row written with n/a"),
		)
	}
	return acq
}
