package sidecar

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDocumentKeepsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub-01_T1w.json")
	input := `{"Manufacturer": "Philips", "EchoTime": 0.0046, "ImageType": ["ORIGINAL", "PRIMARY"]}`
	if err := os.WriteFile(path, []byte(input), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Set("TaskName", "rest"); err != nil {
		t.Fatal(err)
	}
	if err := doc.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"EchoTime", "ImageType", "Manufacturer", "TaskName"}
	if got := reloaded.Keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	if te, ok := reloaded.Float("EchoTime"); !ok || te != 0.0046 {
		t.Fatalf("EchoTime = %v %v", te, ok)
	}
	raw, _ := reloaded.Raw("ImageType")
	var imageType []string
	if err := json.Unmarshal(raw, &imageType); err != nil || len(imageType) != 2 || imageType[1] != "PRIMARY" {
		t.Fatalf("ImageType = %s (%v)", raw, err)
	}
}

func TestDocumentMarshalFormat(t *testing.T) {
	doc := New("x.json")
	_ = doc.Set("b", 1)
	_ = doc.Set("a", "<<task-rest>>")
	data, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n    \"a\": \"<<task-rest>>\",\n    \"b\": 1\n}\n"
	if string(data) != want {
		t.Fatalf("marshal = %q, want %q", data, want)
	}
}

func TestDocumentAccessors(t *testing.T) {
	doc := New("x.json")
	_ = doc.Set("Number", 2.5)
	_ = doc.Set("Text", "3.5")
	_ = doc.Set("List", []int{1})
	_ = doc.Set("Nothing", nil)

	if s, ok := doc.String("Number"); !ok || s != "2.5" {
		t.Fatalf("String(Number) = %q %v", s, ok)
	}
	if f, ok := doc.Float("Text"); !ok || f != 3.5 {
		t.Fatalf("Float(Text) = %v %v", f, ok)
	}
	if _, ok := doc.String("List"); ok {
		t.Fatal("expected list not to read as string")
	}
	if !doc.Has("Nothing") {
		t.Fatal("null value should still be present")
	}
	if !doc.Rename("Number", "Renamed") || doc.Has("Number") {
		t.Fatal("rename did not move the key")
	}
	if doc.Rename("Absent", "Other") {
		t.Fatal("rename of absent key should report false")
	}
	doc.Delete("Renamed")
	if doc.Has("Renamed") {
		t.Fatal("delete kept the key")
	}
}

func TestLoadEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(empty)
	if err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if len(doc.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", doc.Keys())
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
