package scans

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bidskit/internal/sidecar"
)

type headerStub map[string]string

func (h headerStub) Attribute(key string) (string, bool) {
	v, ok := h[key]
	return v, ok
}

func TestParseAge(t *testing.T) {
	tests := map[string]string{
		"034Y":  "34",
		"006M":  "0",
		"030M":  "2",
		"1000W": "19",
		"7305D": "19",
		"45":    "45",
		"":      "",
		"xxY":   "xxY",
	}
	for in, want := range tests {
		if got := ParseAge(in); got != want {
			t.Errorf("ParseAge(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCollectPersonals(t *testing.T) {
	p := CollectPersonals("ses-01", headerStub{
		"PatientAge":    "041Y",
		"PatientSex":    "F",
		"PatientSize":   "1.68",
		"PatientWeight": "61",
	})
	want := Personals{SessionID: "ses-01", Age: "41", Sex: "F", Size: "1.68", Weight: "61"}
	if p != want {
		t.Fatalf("CollectPersonals = %+v, want %+v", p, want)
	}

	if p := CollectPersonals("ses-02", nil); p != (Personals{SessionID: "ses-02"}) {
		t.Fatalf("without header = %+v", p)
	}
}

func TestUpdateParticipantsFirstSessionOnly(t *testing.T) {
	root := t.TempDir()

	written, err := UpdateParticipants(root, "sub-01", Personals{SessionID: "ses-01", Age: "41", Sex: "F"})
	if err != nil || !written {
		t.Fatalf("first session: written=%v err=%v", written, err)
	}
	written, err = UpdateParticipants(root, "sub-01", Personals{SessionID: "ses-02", Age: "42", Sex: "F"})
	if err != nil || written {
		t.Fatalf("second session: written=%v err=%v", written, err)
	}
	if _, err := UpdateParticipants(root, "sub-02", Personals{SessionID: "ses-01"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "participants.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"participant_id\tsession_id\tage\tsex\tsize\tweight",
		"sub-01\tses-01\t41\tF\tn/a\tn/a",
		"sub-02\tses-01\tn/a\tn/a\tn/a\tn/a",
	}, "\n") + "\n"
	if string(data) != want {
		t.Fatalf("participants.tsv =\n%s\nwant\n%s", data, want)
	}

	dict, err := sidecar.Load(filepath.Join(root, "participants.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"participant_id", "session_id", "age", "sex", "size", "weight"} {
		if !dict.Has(key) {
			t.Errorf("participants.json lacks %q", key)
		}
	}
}

func TestUpdateParticipantsKeepsDictionary(t *testing.T) {
	root := t.TempDir()
	jsonPath := filepath.Join(root, "participants.json")
	custom := `{"age": {"Description": "age in years", "Units": "year"}}`
	if err := os.WriteFile(jsonPath, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := UpdateParticipants(root, "sub-01", Personals{SessionID: "ses-01", Age: "30"}); err != nil {
		t.Fatal(err)
	}
	dict, err := sidecar.Load(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := dict.Raw("age")
	if !strings.Contains(string(raw), "age in years") {
		t.Fatalf("custom description replaced: %s", raw)
	}
	if !dict.Has("sex") {
		t.Fatal("new column sex not described")
	}
}
