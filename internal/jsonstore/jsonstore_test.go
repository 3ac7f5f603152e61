package jsonstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "widget.json")
	want := widget{Name: "gizmo", Count: 3}

	if err := WriteJSON(path, want, DefaultWriteOptions()); err != nil {
		t.Fatal(err)
	}

	got := ReadJSON(path, ReadOptions[widget]{Default: widget{Name: "fallback"}})
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestWriteJSON_AtomicReplacesNoTempLeftover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.json")

	if err := WriteJSON(path, widget{Name: "a"}, DefaultWriteOptions()); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, widget{Name: "b"}, DefaultWriteOptions()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no leftover temp file, stat err=%v", err)
	}

	got := ReadJSON(path, ReadOptions[widget]{})
	if got.Name != "b" {
		t.Fatalf("expected latest write to win, got %+v", got)
	}
}

func TestReadJSON_MissingFileReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	def := widget{Name: "default", Count: 7}

	got := ReadJSON(path, ReadOptions[widget]{Default: def})
	if got != def {
		t.Fatalf("expected default for missing file, got %+v", got)
	}
}

func TestReadJSON_CorruptBytesReturnDefaultNeverPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	def := widget{Name: "default"}
	got := ReadJSON(path, ReadOptions[widget]{Default: def})
	if got != def {
		t.Fatalf("expected default for corrupt file, got %+v", got)
	}
}

func TestReadJSON_EmptyFileReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	def := widget{Name: "default"}
	got := ReadJSON(path, ReadOptions[widget]{Default: def})
	if got != def {
		t.Fatalf("expected default for empty file, got %+v", got)
	}
}

func TestReadJSON_ValidateFailureReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.json")
	if err := WriteJSON(path, widget{Name: "", Count: -1}, DefaultWriteOptions()); err != nil {
		t.Fatal(err)
	}

	def := widget{Name: "default"}
	got := ReadJSON(path, ReadOptions[widget]{
		Default: def,
		Validate: func(w widget) error {
			if w.Name == "" {
				return errors.New("name required")
			}
			return nil
		},
	})
	if got != def {
		t.Fatalf("expected default on validate failure, got %+v", got)
	}
}

func TestAppendJSONArray_CreatesThenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")

	if err := AppendJSONArray(path, widget{Name: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendJSONArray(path, widget{Name: "two"}); err != nil {
		t.Fatal(err)
	}

	got := ReadJSON(path, ReadOptions[[]widget]{})
	if len(got) != 2 || got[0].Name != "one" || got[1].Name != "two" {
		t.Fatalf("unexpected array contents: %+v", got)
	}
}

func TestAppendJSONArray_RecoversFromNonArrayContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	if err := os.WriteFile(path, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := AppendJSONArray(path, widget{Name: "first"}); err != nil {
		t.Fatal(err)
	}

	got := ReadJSON(path, ReadOptions[[]widget]{})
	if len(got) != 1 || got[0].Name != "first" {
		t.Fatalf("expected recovery to a fresh single-element array, got %+v", got)
	}
}

func TestPatchField_LeavesOtherFieldsIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.json")
	if err := WriteJSON(path, widget{Name: "keep-me", Count: 1}, DefaultWriteOptions()); err != nil {
		t.Fatal(err)
	}

	if err := PatchField(path, "count", 42); err != nil {
		t.Fatal(err)
	}

	got := ReadJSON(path, ReadOptions[widget]{})
	if got.Name != "keep-me" || got.Count != 42 {
		t.Fatalf("expected only count patched, got %+v", got)
	}
}

func TestRawField_MissingFileReturnsNotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	_, ok := RawField(path, "count")
	if ok {
		t.Fatal("expected RawField on missing file to report not-exists")
	}
}

func TestEnsureDir_EmptyIsNoop(t *testing.T) {
	if err := EnsureDir(""); err != nil {
		t.Fatalf("EnsureDir(\"\") should be a no-op, got %v", err)
	}
}

func TestAppendToFile_AppendsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "execution.log")

	if err := AppendToFile(path, "line one\n"); err != nil {
		t.Fatal(err)
	}
	if err := AppendToFile(path, "line two\n"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\n" {
		t.Fatalf("unexpected log contents: %q", string(data))
	}
}
