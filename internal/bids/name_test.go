package bids

import "testing"

func TestSplitExt(t *testing.T) {
	tests := []struct {
		in, stem, ext string
	}{
		{"sub-01_T1w.nii.gz", "sub-01_T1w", ".nii.gz"},
		{"sub-01_T1w.nii", "sub-01_T1w", ".nii"},
		{"/data/sub-01/anat/sub-01_T1w.json", "sub-01_T1w", ".json"},
		{"sub-01_events.tsv.gz", "sub-01_events", ".tsv.gz"},
		{"sub-01_dwi.bval", "sub-01_dwi", ".bval"},
		{"sub-01_T1w_Crop_1.NII.GZ", "sub-01_T1w_Crop_1", ".NII.GZ"},
		{"README", "README", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			stem, ext := SplitExt(tt.in)
			if stem != tt.stem || ext != tt.ext {
				t.Fatalf("SplitExt(%q) = (%q, %q), want (%q, %q)", tt.in, stem, ext, tt.stem, tt.ext)
			}
		})
	}
}

func TestParseNameKeepsConverterPostfixes(t *testing.T) {
	n := ParseName("sub-01_task-rest_bold_e2_ph")
	if n.Suffix != "bold_e2_ph" {
		t.Fatalf("suffix = %q", n.Suffix)
	}
	if v, _ := n.Get("task"); v != "rest" {
		t.Fatalf("task = %q", v)
	}
	if n.String() != "sub-01_task-rest_bold_e2_ph" {
		t.Fatalf("round trip = %q", n.String())
	}
}

func TestInsertEntityCanonicalOrder(t *testing.T) {
	s := mustSchema(t)
	tests := []struct {
		name, file, key, value, want string
	}{
		{"echo after run", "sub-01_task-rest_run-1_bold_e2.nii.gz", "echo", "2", "sub-01_task-rest_run-1_echo-2_bold_e2.nii.gz"},
		{"acq after task", "sub-01_ses-1_task-rest_bold.nii", "acq", "c1", "sub-01_ses-1_task-rest_acq-c1_bold.nii"},
		{"replace value", "sub-01_run-1_T1w.nii.gz", "run", "3", "sub-01_run-3_T1w.nii.gz"},
		{"remove value", "sub-01_run-1_T1w.json", "run", "", "sub-01_T1w.json"},
		{"unknown keys kept", "sub-01_foo-bar_T1w.nii", "acq", "x", "sub-01_acq-x_foo-bar_T1w.nii"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.InsertEntity(tt.file, tt.key, tt.value); got != tt.want {
				t.Fatalf("InsertEntity = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendLabel(t *testing.T) {
	s := mustSchema(t)
	if got := s.AppendLabel("sub-01_acq-mprage_T1w_c1.nii", "acq", "c1"); got != "sub-01_acq-mpragec1_T1w_c1.nii" {
		t.Fatalf("AppendLabel existing = %q", got)
	}
	if got := s.AppendLabel("sub-01_T1w_c1.nii", "acq", "c1"); got != "sub-01_acq-c1_T1w_c1.nii" {
		t.Fatalf("AppendLabel new = %q", got)
	}
}

func TestGetValue(t *testing.T) {
	if got := GetValue("sub-01_run-12_T1w.nii.gz", "run"); got != "12" {
		t.Fatalf("GetValue run = %q", got)
	}
	if got := GetValue("sub-01_T1w.nii.gz", "run"); got != "" {
		t.Fatalf("GetValue missing = %q", got)
	}
}

func TestCleanLabel(t *testing.T) {
	tests := map[string]string{
		"Crème brûlée":   "Cremebrulee",
		"t1_mprage-sag.": "t1mpragesag",
		"ÄÖÜ 3D":         "AOU3D",
		"":               "",
	}
	for in, want := range tests {
		if got := CleanLabel(in); got != want {
			t.Errorf("CleanLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsDynamic(t *testing.T) {
	if !IsDynamic("<<1>>") || !IsDynamic(" <<SourceFilePath>> ") {
		t.Fatal("expected dynamic placeholders")
	}
	if IsDynamic("<SeriesDescription>") || IsDynamic("1") {
		t.Fatal("unexpected dynamic match")
	}
}
