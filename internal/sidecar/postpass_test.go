package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"bidskit/internal/logging"
	"bidskit/internal/nifti"
	"bidskit/internal/services"
)

func writeSidecar(t *testing.T, path string, fields map[string]any) {
	t.Helper()
	doc := New(path)
	for k, v := range fields {
		if err := doc.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := doc.Save(); err != nil {
		t.Fatal(err)
	}
}

func writeImage(t *testing.T, path string, slices int16) {
	t.Helper()
	h := &nifti.Header{SizeOfHdr: 348}
	h.Dim = [8]int16{4, 64, 64, slices, 10, 1, 1, 1}
	copy(h.Magic[:], "n+1\x00")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := nifti.Encode(f, h); err != nil {
		t.Fatal(err)
	}
}

func mustLoad(t *testing.T, path string) *Document {
	t.Helper()
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func newSession(t *testing.T) (subject, session string) {
	t.Helper()
	subject = filepath.Join(t.TempDir(), "sub-01")
	session = filepath.Join(subject, "ses-01")
	for _, dt := range []string{"fmap", "func", "dwi"} {
		if err := os.MkdirAll(filepath.Join(session, dt), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return subject, session
}

func TestPostPassFieldmaps(t *testing.T) {
	subject, session := newSession(t)
	fmap := filepath.Join(session, "fmap")
	writeSidecar(t, filepath.Join(fmap, "sub-01_ses-01_magnitude1.json"), map[string]any{"EchoTime": 0.0049, "IntendedFor": "<<bold>>"})
	writeSidecar(t, filepath.Join(fmap, "sub-01_ses-01_magnitude2.json"), map[string]any{"EchoTime": 0.0074, "IntendedFor": "<<bold>>"})
	writeSidecar(t, filepath.Join(fmap, "sub-01_ses-01_phasediff.json"), map[string]any{"IntendedFor": "<<bold>>", "Manufacturer": "Philips"})
	if err := os.WriteFile(filepath.Join(session, "func", "sub-01_ses-01_task-rest_bold.nii.gz"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	saved, err := NewPostPass(logging.NewNop(), PostPassOptions{}).Run(context.Background(), session, subject)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("saved = %v", saved)
	}

	doc := mustLoad(t, filepath.Join(fmap, "sub-01_ses-01_phasediff.json"))
	value, ok := IntendedForOf(doc)
	if !ok || !value.IsList() {
		t.Fatalf("IntendedFor not resolved: %+v", value)
	}
	if want := []string{"ses-01/func/sub-01_ses-01_task-rest_bold.nii.gz"}; !reflect.DeepEqual(value.Values(), want) {
		t.Fatalf("IntendedFor = %v, want %v", value.Values(), want)
	}
	if te, _ := doc.Float("EchoTime1"); te != 0.0049 {
		t.Fatalf("EchoTime1 = %v", te)
	}
	if te, _ := doc.Float("EchoTime2"); te != 0.0074 {
		t.Fatalf("EchoTime2 = %v", te)
	}
	if v, _ := doc.String("Manufacturer"); v != "Philips" {
		t.Fatalf("unrelated key lost: %q", v)
	}
	if doc.Has("PhaseEncodingDirection") {
		t.Fatal("scanner fixes disabled but PhaseEncodingDirection was written")
	}

	// A second pass keeps resolved lists.
	if _, err := NewPostPass(logging.NewNop(), PostPassOptions{}).Run(context.Background(), session, subject); err != nil {
		t.Fatal(err)
	}
	again, _ := IntendedForOf(mustLoad(t, filepath.Join(fmap, "sub-01_ses-01_phasediff.json")))
	if !reflect.DeepEqual(again.Values(), value.Values()) {
		t.Fatalf("second pass changed IntendedFor to %v", again.Values())
	}
}

func TestPostPassNoIntendedForMatch(t *testing.T) {
	subject, session := newSession(t)
	path := filepath.Join(session, "fmap", "sub-01_ses-01_epi.json")
	writeSidecar(t, path, map[string]any{"IntendedFor": "<<dwi>>"})

	if _, err := NewPostPass(logging.NewNop(), PostPassOptions{}).Run(context.Background(), session, subject); err != nil {
		t.Fatal(err)
	}
	if v, ok := mustLoad(t, path).String("IntendedFor"); !ok || v != "" {
		t.Fatalf("IntendedFor = %q %v, want empty string", v, ok)
	}
}

func TestPostPassScannerFixes(t *testing.T) {
	subject, session := newSession(t)
	funcDir := filepath.Join(session, "func")
	bold := filepath.Join(funcDir, "sub-01_ses-01_task-rest_bold.json")
	writeSidecar(t, bold, map[string]any{
		"SeriesDescription":         "fMRI_rest_PA",
		"EstimatedTotalReadoutTime": 0.03,
		"RepetitionTime":            1.5,
	})
	writeImage(t, filepath.Join(funcDir, "sub-01_ses-01_task-rest_bold.nii"), 69)

	odd := filepath.Join(funcDir, "sub-01_ses-01_task-odd_bold.json")
	writeSidecar(t, odd, map[string]any{"TaskName": "odd"})
	writeImage(t, filepath.Join(funcDir, "sub-01_ses-01_task-odd_bold.nii"), 70)

	dwi := filepath.Join(session, "dwi", "sub-01_ses-01_dwi.json")
	writeSidecar(t, dwi, map[string]any{"SeriesDescription": "dwi_AP"})

	opts := PostPassOptions{ScannerFixes: true, SliceTiming: true}
	if _, err := NewPostPass(logging.NewNop(), opts).Run(context.Background(), session, subject); err != nil {
		t.Fatal(err)
	}

	doc := mustLoad(t, bold)
	if v, _ := doc.String("PhaseEncodingDirection"); v != "j" {
		t.Fatalf("PhaseEncodingDirection = %q", v)
	}
	if v, _ := doc.Float("TotalReadoutTime"); v != 0.03 {
		t.Fatalf("TotalReadoutTime = %v", v)
	}
	if v, _ := doc.String("TaskName"); v != DefaultTaskName {
		t.Fatalf("TaskName = %q", v)
	}
	raw, ok := doc.Raw("SliceTiming")
	if !ok {
		t.Fatal("SliceTiming missing")
	}
	var timing []float64
	if err := json.Unmarshal(raw, &timing); err != nil || len(timing) != 69 || timing[1] != 0.065 {
		t.Fatalf("SliceTiming = %s (%v)", raw, err)
	}

	oddDoc := mustLoad(t, odd)
	if oddDoc.Has("SliceTiming") {
		t.Fatal("70 slices cannot be split into 3 bands; SliceTiming should be absent")
	}
	if v, _ := oddDoc.String("TaskName"); v != "odd" {
		t.Fatalf("TaskName = %q", v)
	}

	if v, _ := mustLoad(t, dwi).String("PhaseEncodingDirection"); v != "j-" {
		t.Fatalf("dwi PhaseEncodingDirection = %q", v)
	}
}

func TestPostPassMissingSession(t *testing.T) {
	_, err := NewPostPass(nil, PostPassOptions{}).Run(context.Background(), filepath.Join(t.TempDir(), "absent"), t.TempDir())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
