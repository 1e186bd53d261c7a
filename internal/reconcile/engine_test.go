package reconcile_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"bidskit/internal/bids"
	"bidskit/internal/logging"
	"bidskit/internal/reconcile"
	"bidskit/internal/testsupport"
)

func newEngine(t *testing.T) *reconcile.Engine {
	t.Helper()
	return reconcile.New(mustSchema(t), logging.NewNop())
}

func readContent(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestReconcileCropReplacesUncropped(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "sub-01_T1w.nii.gz"), "uncropped")
	testsupport.WriteFile(t, filepath.Join(dir, "sub-01_T1w_Crop_1.nii.gz"), "cropped")
	testsupport.WriteFile(t, filepath.Join(dir, "sub-01_T1w.json"), "{}")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
		Crop: true,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !slices.Equal(res.Outputs, []string{"sub-01_T1w.nii.gz"}) {
		t.Fatalf("outputs = %v", res.Outputs)
	}
	if got := testsupport.ListDir(t, dir); !slices.Equal(got, []string{"sub-01_T1w.json", "sub-01_T1w.nii.gz"}) {
		t.Fatalf("dir = %v", got)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_T1w.nii.gz")); got != "cropped" {
		t.Fatalf("expected cropped image to win, got %q", got)
	}
	if res.Warnings == 0 {
		t.Fatal("expected a warning for the replaced image")
	}
}

func TestReconcileCropModeOffKeepsBoth(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir, "sub-01_T1w.nii.gz", "sub-01_T1w.json", "sub-01_T1w_Crop_1.nii.gz")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("expected both images kept, got %v", res.Outputs)
	}
	if !slices.Contains(res.Outputs, "sub-01_acq-Crop1_T1w.nii.gz") {
		t.Fatalf("expected crop marker folded into acq, got %v", res.Outputs)
	}
}

func TestReconcileMultiEchoRenamesSidecars(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir,
		"sub-01_task-rest_run-1_bold_e1.nii.gz", "sub-01_task-rest_run-1_bold_e1.json",
		"sub-01_task-rest_run-1_bold_e2.nii.gz", "sub-01_task-rest_run-1_bold_e2.json",
	)

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:        dir,
		Base:       "sub-01_task-rest_run-1_bold",
		Run:        bids.Run{Datatype: "func", Suffix: "bold", Entities: map[string]string{"task": "rest", "run": "<<1>>"}},
		DynamicRun: true,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{
		"sub-01_task-rest_run-1_echo-1_bold.json",
		"sub-01_task-rest_run-1_echo-1_bold.nii.gz",
		"sub-01_task-rest_run-1_echo-2_bold.json",
		"sub-01_task-rest_run-1_echo-2_bold.nii.gz",
	}
	if got := testsupport.ListDir(t, dir); !slices.Equal(got, want) {
		t.Fatalf("dir = %v\nwant  %v", got, want)
	}
	if !slices.Equal(res.JSONFiles, []string{want[0], want[2]}) {
		t.Fatalf("json files = %v", res.JSONFiles)
	}
	if len(res.Renames) != 2 || res.Warnings != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := readContent(t, filepath.Join(dir, want[3])); got != "sub-01_task-rest_run-1_bold_e2.nii.gz" {
		t.Fatalf("echo-2 image holds %q", got)
	}
}

func TestReconcileDynamicRunSkipsPreviousAcquisition(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir,
		"sub-01_task-rest_run-1_echo-1_bold.nii.gz", "sub-01_task-rest_run-1_echo-1_bold.json",
		"sub-01_task-rest_run-1_echo-2_bold.nii.gz", "sub-01_task-rest_run-1_echo-2_bold.json",
		"sub-01_task-rest_run-1_bold_e1.nii.gz", "sub-01_task-rest_run-1_bold_e1.json",
		"sub-01_task-rest_run-1_bold_e2.nii.gz", "sub-01_task-rest_run-1_bold_e2.json",
	)

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:        dir,
		Base:       "sub-01_task-rest_run-1_bold",
		Run:        bids.Run{Datatype: "func", Suffix: "bold", Entities: map[string]string{"task": "rest", "run": "<<1>>"}},
		DynamicRun: true,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"sub-01_task-rest_run-2_echo-1_bold.nii.gz", "sub-01_task-rest_run-2_echo-2_bold.nii.gz"}
	if !slices.Equal(res.Outputs, want) {
		t.Fatalf("outputs = %v", res.Outputs)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_task-rest_run-1_echo-1_bold.nii.gz")); got != "sub-01_task-rest_run-1_echo-1_bold.nii.gz" {
		t.Fatalf("previous acquisition was overwritten: %q", got)
	}
}

func TestReconcileStaticRunOverwritesWithWarning(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "sub-01_task-rest_echo-1_bold.nii.gz"), "old")
	testsupport.WriteFile(t, filepath.Join(dir, "sub-01_task-rest_bold_e1.nii.gz"), "new")
	testsupport.Touch(t, dir, "sub-01_task-rest_bold_e1.json", "sub-01_task-rest_bold_e2.nii.gz", "sub-01_task-rest_bold_e2.json")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_task-rest_bold",
		Run:  boldRun(),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_task-rest_echo-1_bold.nii.gz")); got != "new" {
		t.Fatalf("expected overwrite, got %q", got)
	}
	if res.Warnings != 1 {
		t.Fatalf("expected one overwrite warning, got %d", res.Warnings)
	}
	if len(testsupport.ListDir(t, dir)) != 4 {
		t.Fatalf("unexpected dir %v", testsupport.ListDir(t, dir))
	}
}

func TestReconcileFieldmapPairSwapsNames(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir, "sub-01_fieldmap.nii.gz", "sub-01_fieldmap.json", "sub-01_fieldmap_ph.nii.gz", "sub-01_fieldmap_ph.json")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_fieldmap",
		Run:  bids.Run{Datatype: "fmap", Suffix: "fieldmap"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"sub-01_fieldmap.json", "sub-01_fieldmap.nii.gz", "sub-01_magnitude.json", "sub-01_magnitude.nii.gz"}
	if got := testsupport.ListDir(t, dir); !slices.Equal(got, want) {
		t.Fatalf("dir = %v", got)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_magnitude.nii.gz")); got != "sub-01_fieldmap.nii.gz" {
		t.Fatalf("magnitude holds %q", got)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_fieldmap.json")); got != "sub-01_fieldmap_ph.json" {
		t.Fatalf("fieldmap sidecar holds %q", got)
	}
	if len(res.JSONFiles) != 2 {
		t.Fatalf("json files = %v", res.JSONFiles)
	}
}

func TestReconcileParksSiblingInTheWay(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir,
		"sub-01_magnitude1_e1_x.nii", "sub-01_magnitude1_e1_x.json",
		"sub-01_magnitude1_x.nii", "sub-01_magnitude1_x.json",
	)

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_magnitude1",
		Run:  bids.Run{Datatype: "fmap", Suffix: "magnitude1"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("expected two outputs, got %v", res.Outputs)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_magnitude1_x.nii")); got != "sub-01_magnitude1_e1_x.nii" {
		t.Fatalf("first sibling not in place: %q", got)
	}
	if got := readContent(t, filepath.Join(dir, "sub-01_run-2_magnitude1_x.nii")); got != "sub-01_magnitude1_x.nii" {
		t.Fatalf("second sibling lost: %q", got)
	}
	for _, name := range testsupport.ListDir(t, dir) {
		if strings.HasPrefix(name, ".parked-") {
			t.Fatalf("parked file left behind: %s", name)
		}
	}
	if len(testsupport.ListDir(t, dir)) != 4 {
		t.Fatalf("file count changed: %v", testsupport.ListDir(t, dir))
	}
}

func TestReconcileKeepsEveryImageOnCollision(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir, "sub-01_T1w_x+.nii", "sub-01_T1w_x.nii")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []string{"sub-01_acq-x_T1w.nii", "sub-01_acq-x_run-2_T1w.nii"}
	if !slices.Equal(res.Outputs, want) {
		t.Fatalf("outputs = %v", res.Outputs)
	}
	if got := testsupport.ListDir(t, dir); !slices.Equal(got, want) {
		t.Fatalf("dir = %v", got)
	}
}

func TestReconcileMissingSidecarWarns(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, dir, "sub-01_T1w.nii")

	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  dir,
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Warnings != 1 || len(res.JSONFiles) != 0 || len(res.Outputs) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReconcileNoOutput(t *testing.T) {
	res, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  t.TempDir(),
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Outputs) != 0 || res.Warnings != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReconcileMissingDirectory(t *testing.T) {
	_, err := newEngine(t).Reconcile(context.Background(), reconcile.Acquisition{
		Dir:  filepath.Join(t.TempDir(), "missing"),
		Base: "sub-01_T1w",
		Run:  bids.Run{Datatype: "anat", Suffix: "T1w"},
	})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
