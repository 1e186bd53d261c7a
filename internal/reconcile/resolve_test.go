package reconcile_test

import (
	"slices"
	"strings"
	"testing"

	"bidskit/internal/bids"
	"bidskit/internal/reconcile"
)

func mustSchema(t *testing.T) *bids.Schema {
	t.Helper()
	schema, err := bids.LoadSchema()
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	return schema
}

func targets(resolutions []reconcile.Resolution) []string {
	out := make([]string, 0, len(resolutions))
	for _, r := range resolutions {
		out = append(out, r.Target)
	}
	return out
}

func boldRun() bids.Run {
	return bids.Run{Datatype: "func", Suffix: "bold", Entities: map[string]string{"task": "rest"}}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		run      bids.Run
		siblings []string
		want     []string
	}{
		{
			name:     "echo index",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold_e2.nii.gz", "sub-01_task-rest_bold_e1.nii.gz"},
			want:     []string{"sub-01_task-rest_echo-1_bold.nii.gz", "sub-01_task-rest_echo-2_bold.nii.gz"},
		},
		{
			name:     "bare echo postfix is the first echo",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold_e.nii.gz", "sub-01_task-rest_bold_e2.nii.gz"},
			want:     []string{"sub-01_task-rest_echo-1_bold.nii.gz", "sub-01_task-rest_echo-2_bold.nii.gz"},
		},
		{
			name:     "implicit first echo",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_bold_e2.nii.gz"},
			want:     []string{"sub-01_task-rest_echo-1_bold.nii.gz", "sub-01_task-rest_echo-2_bold.nii.gz"},
		},
		{
			name:     "single echo magnitude and phase keep the bare name",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_bold_ph.nii.gz"},
			want:     []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_part-phase_bold.nii.gz"},
		},
		{
			name:     "coil pair keeps the bare name",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_bold_c2.nii.gz"},
			want:     []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_acq-c2_bold.nii.gz"},
		},
		{
			name:     "echo and phase",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold_e1.nii.gz", "sub-01_task-rest_bold_e2.nii.gz", "sub-01_task-rest_bold_e2_ph.nii.gz"},
			want: []string{
				"sub-01_task-rest_echo-1_bold.nii.gz",
				"sub-01_task-rest_echo-2_bold.nii.gz",
				"sub-01_task-rest_echo-2_part-phase_bold.nii.gz",
			},
		},
		{
			name:     "part components",
			base:     "sub-01_T1w",
			run:      bids.Run{Datatype: "anat", Suffix: "T1w"},
			siblings: []string{"sub-01_T1w.nii", "sub-01_T1w_imaginary.nii", "sub-01_T1w_ph.nii", "sub-01_T1w_real.nii"},
			want:     []string{"sub-01_T1w.nii", "sub-01_part-imag_T1w.nii", "sub-01_part-phase_T1w.nii", "sub-01_part-real_T1w.nii"},
		},
		{
			name:     "coil appended to acq",
			base:     "sub-01_acq-mprage_T1w",
			run:      bids.Run{Datatype: "anat", Suffix: "T1w"},
			siblings: []string{"sub-01_acq-mprage_T1w_c3.nii"},
			want:     []string{"sub-01_acq-mpragec3_T1w.nii"},
		},
		{
			name:     "unclassified creates acq",
			base:     "sub-01_T1w",
			run:      bids.Run{Datatype: "anat", Suffix: "T1w"},
			siblings: []string{"sub-01_T1w_i00001.nii"},
			want:     []string{"sub-01_acq-i00001_T1w.nii"},
		},
		{
			name:     "non numeric echo postfix",
			base:     "sub-01_task-rest_bold",
			run:      boldRun(),
			siblings: []string{"sub-01_task-rest_bold_eq.nii.gz"},
			want:     []string{"sub-01_task-rest_acq-eq_bold.nii.gz"},
		},
		{
			name:     "echo postfix without echo entity",
			base:     "sub-01_T1w",
			run:      bids.Run{Datatype: "anat", Suffix: "T1w"},
			siblings: []string{"sub-01_T1w_e2.nii"},
			want:     []string{"sub-01_acq-e2_T1w.nii"},
		},
		{
			name:     "fieldmap magnitude and fieldmap pair",
			base:     "sub-01_fieldmap",
			run:      bids.Run{Datatype: "fmap", Suffix: "fieldmap"},
			siblings: []string{"sub-01_fieldmap_ph.nii.gz", "sub-01_fieldmap.nii.gz"},
			want:     []string{"sub-01_magnitude.nii.gz", "sub-01_fieldmap.nii.gz"},
		},
		{
			name:     "two magnitudes and phasediff",
			base:     "sub-01_magnitude1",
			run:      bids.Run{Datatype: "fmap", Suffix: "magnitude1"},
			siblings: []string{"sub-01_magnitude1.nii", "sub-01_magnitude1_e2.nii", "sub-01_magnitude1_ph.nii"},
			want:     []string{"sub-01_magnitude1.nii", "sub-01_magnitude2.nii", "sub-01_phasediff.nii"},
		},
		{
			name:     "dcm2niix phasediff layout",
			base:     "sub-01_run-1_magnitude1",
			run:      bids.Run{Datatype: "fmap", Suffix: "magnitude1", Entities: map[string]string{"run": "1"}},
			siblings: []string{"sub-01_run-1_magnitude1_e1.nii.gz", "sub-01_run-1_magnitude1_e2.nii.gz", "sub-01_run-1_magnitude1_e2_ph.nii.gz"},
			want:     []string{"sub-01_run-1_magnitude1.nii.gz", "sub-01_run-1_magnitude2.nii.gz", "sub-01_run-1_phasediff.nii.gz"},
		},
		{
			name: "two magnitudes and two phases",
			base: "sub-01_magnitude1",
			run:  bids.Run{Datatype: "fmap", Suffix: "magnitude1"},
			siblings: []string{
				"sub-01_magnitude1_e1.nii", "sub-01_magnitude1_e1_ph.nii",
				"sub-01_magnitude1_e2.nii", "sub-01_magnitude1_e2_ph.nii",
			},
			want: []string{"sub-01_magnitude1.nii", "sub-01_phase1.nii", "sub-01_magnitude2.nii", "sub-01_phase2.nii"},
		},
		{
			name:     "already final",
			base:     "sub-01_run-1_T1w",
			run:      bids.Run{Datatype: "anat", Suffix: "T1w", Entities: map[string]string{"run": "1"}},
			siblings: []string{"sub-01_run-1_T1w.nii.gz"},
			want:     []string{"sub-01_run-1_T1w.nii.gz"},
		},
	}

	resolver := reconcile.NewResolver(mustSchema(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve(tt.base, tt.run, tt.siblings)
			if len(got) != len(tt.siblings) {
				t.Fatalf("got %d resolutions for %d siblings", len(got), len(tt.siblings))
			}
			if !slices.Equal(targets(got), tt.want) {
				t.Fatalf("targets = %v\nwant      %v", targets(got), tt.want)
			}
		})
	}
}

func TestResolveRecordsRoles(t *testing.T) {
	resolver := reconcile.NewResolver(mustSchema(t))
	got := resolver.Resolve("sub-01_task-rest_bold", boldRun(), []string{"sub-01_task-rest_bold.nii.gz", "sub-01_task-rest_bold_e2_ph.nii.gz"})

	if !got[0].ImplicitEcho || got[0].Postfixes[0].Value != "1" {
		t.Fatalf("expected implicit first echo, got %+v", got[0])
	}
	roles := []reconcile.Role{got[1].Postfixes[0].Role, got[1].Postfixes[1].Role}
	if !slices.Equal(roles, []reconcile.Role{reconcile.RoleEchoIndex, reconcile.RolePhase}) {
		t.Fatalf("unexpected roles %v", roles)
	}
	if got[1].Postfixes[1].Value != "phase" {
		t.Fatalf("expected part value phase, got %q", got[1].Postfixes[1].Value)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	resolver := reconcile.NewResolver(mustSchema(t))
	run := bids.Run{Datatype: "anat", Suffix: "T1w"}
	got := resolver.Resolve("sub-01_T1w", run, []string{"sub-01_T1w.nii.gz"})
	if got[0].Changed() || len(got[0].Postfixes) != 0 {
		t.Fatalf("expected no-op, got %+v", got[0])
	}

	again := resolver.Resolve("sub-01_part-phase_T1w", run, []string{"sub-01_part-phase_T1w.nii"})
	if again[0].Changed() {
		t.Fatalf("expected resolved name to stay put, got %q", again[0].Target)
	}
}

func TestResolveUnknownFieldmapLayoutKeepsTokens(t *testing.T) {
	resolver := reconcile.NewResolver(mustSchema(t))
	run := bids.Run{Datatype: "fmap", Suffix: "magnitude1"}
	siblings := []string{
		"sub-01_magnitude1_e1.nii", "sub-01_magnitude1_e2.nii", "sub-01_magnitude1_e3.nii",
		"sub-01_magnitude1_e4.nii", "sub-01_magnitude1_e5.nii",
	}
	got := resolver.Resolve("sub-01_magnitude1", run, siblings)
	if len(got) != len(siblings) {
		t.Fatalf("expected %d resolutions, got %d", len(siblings), len(got))
	}
	if got[0].Target != "sub-01_magnitude1.nii" || got[1].Target != "sub-01_magnitude2.nii" {
		t.Fatalf("expected unconditional rules to apply, got %v", targets(got))
	}
	if got[2].Target != "sub-01_magnitude1_e3.nii" || !slices.Equal(got[2].Unresolved, []string{"e3"}) {
		t.Fatalf("expected e3 to stay in the name, got %+v", got[2])
	}
	if !strings.Contains(strings.Join(got[2].Notes, "\n"), "unknown fieldmap layout") {
		t.Fatalf("expected layout diagnostic, got %v", got[2].Notes)
	}
	seen := map[string]bool{}
	for _, r := range got[2:] {
		if seen[r.Target] {
			t.Fatalf("duplicate target %q", r.Target)
		}
		seen[r.Target] = true
	}
}

func TestResolveLeavesForeignFilesAlone(t *testing.T) {
	resolver := reconcile.NewResolver(mustSchema(t))
	got := resolver.Resolve("sub-01_T1w", bids.Run{Datatype: "anat", Suffix: "T1w"}, []string{"sub-02_T1w_c1.nii"})
	if got[0].Changed() || len(got[0].Notes) == 0 {
		t.Fatalf("expected unchanged with note, got %+v", got[0])
	}
}
