package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestNewWorkspace_CreatesLayout(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	for _, dir := range Layout {
		full := filepath.Join(w.Root(), dir)
		if !Exists(w, dir) {
			t.Errorf("expected layout directory %q to exist at %s", dir, full)
		}
	}
}

func TestResolve_RejectsEscapingPaths(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if _, err := w.Resolve("../../etc/passwd"); err == nil {
		t.Error("Resolve should reject a relative path that escapes the workspace")
	}
	if _, err := w.Resolve("/etc/passwd"); err == nil {
		t.Error("Resolve should reject an absolute path outside the workspace")
	}
	if _, err := w.Resolve("memory/notes.md"); err != nil {
		t.Errorf("Resolve should accept a normal relative path, got error: %v", err)
	}
}

func TestAppendAndReadJSONL_RoundTrip(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	type rec struct {
		ID int `json:"id"`
	}
	for i := 1; i <= 3; i++ {
		if err := AppendJSONL(w, "metrics/events.jsonl", rec{ID: i}); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	var got []int
	err = ReadJSONL(w, "metrics/events.jsonl", func(line []byte) error {
		var r rec
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		got = append(got, r.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("got = %v, want [1 2 3]", got)
	}
}

func TestReadJSONL_MissingFileIsEmptyNotError(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	called := false
	err = ReadJSONL(w, "does/not/exist.jsonl", func(line []byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL on missing file should not error: %v", err)
	}
	if called {
		t.Error("decode callback should never run for a missing file")
	}
}

func TestRewriteJSONL_ReplacesContent(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := AppendJSONL(w, "signals/active.jsonl", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}
	if err := RewriteJSONL(w, "signals/active.jsonl", [][]byte{[]byte(`{"b":"2"}`)}); err != nil {
		t.Fatalf("RewriteJSONL: %v", err)
	}

	var lines []string
	err = ReadJSONL(w, "signals/active.jsonl", func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL after rewrite: %v", err)
	}
	if len(lines) != 1 || lines[0] != `{"b":"2"}` {
		t.Errorf("post-rewrite lines = %v, want one line {\"b\":\"2\"}", lines)
	}
}

func TestWriteAndReadYAML_RoundTrip(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	type cfg struct {
		Name string `yaml:"name"`
	}
	if err := WriteYAML(w, "config.yaml", cfg{Name: "evoagent"}); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	var out cfg
	if err := ReadYAML(w, "config.yaml", &out); err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}
	if out.Name != "evoagent" {
		t.Errorf("Name = %q, want evoagent", out.Name)
	}
}

func TestReadYAML_MissingFileLeavesValueUntouched(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	out := struct{ Name string }{Name: "unchanged"}
	if err := ReadYAML(w, "missing.yaml", &out); err != nil {
		t.Fatalf("ReadYAML on missing file should not error: %v", err)
	}
	if out.Name != "unchanged" {
		t.Errorf("Name = %q, want unchanged", out.Name)
	}
}

func TestWriteFileAndReadFile_RoundTrip(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := WriteFile(w, "notes.md", "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(w, "notes.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello" {
		t.Errorf("ReadFile = %q, want hello", got)
	}
}

func TestReadFile_MissingFileReturnsEmptyString(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	got, err := ReadFile(w, "missing.md")
	if err != nil {
		t.Fatalf("ReadFile on missing file should not error: %v", err)
	}
	if got != "" {
		t.Errorf("ReadFile on missing file = %q, want empty", got)
	}
}

func TestAppendMarkdown_AppendsAcrossCalls(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := AppendMarkdown(w, "memory/user/preferences.md", "- first\n"); err != nil {
		t.Fatalf("AppendMarkdown: %v", err)
	}
	if err := AppendMarkdown(w, "memory/user/preferences.md", "- second\n"); err != nil {
		t.Fatalf("AppendMarkdown: %v", err)
	}
	got, err := ReadFile(w, "memory/user/preferences.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "- first\n- second\n" {
		t.Errorf("got = %q, want both appended lines in order", got)
	}
}
