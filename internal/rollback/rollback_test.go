package rollback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

func newTestWorkspace(t *testing.T) *store.Workspace {
	t.Helper()
	w, err := store.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return w
}

func TestBackupAndRollback_RoundTrip(t *testing.T) {
	w := newTestWorkspace(t)
	mgr := NewManager(w)

	if err := store.WriteFile(w, "rules/constitution/core.md", "original content"); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	backupID, err := mgr.Backup([]string{"rules/constitution/core.md"}, "prop_test")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	if err := store.WriteFile(w, "rules/constitution/core.md", "modified content"); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}

	if err := mgr.Rollback(backupID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err := store.ReadFile(w, "rules/constitution/core.md")
	if err != nil {
		t.Fatalf("ReadFile after rollback: %v", err)
	}
	if got != "original content" {
		t.Errorf("content after rollback = %q, want %q", got, "original content")
	}
}

func TestRollback_RefusesWhenNotActive(t *testing.T) {
	w := newTestWorkspace(t)
	mgr := NewManager(w)

	if err := store.WriteFile(w, "notes.md", "v1"); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	backupID, err := mgr.Backup([]string{"notes.md"}, "prop_test")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := mgr.Rollback(backupID); err != nil {
		t.Fatalf("first Rollback: %v", err)
	}
	if err := mgr.Rollback(backupID); err == nil {
		t.Error("second Rollback on an already-rolled-back backup should fail")
	}
}

func TestBackup_TracksMissingFiles(t *testing.T) {
	w := newTestWorkspace(t)
	mgr := NewManager(w)

	backupID, err := mgr.Backup([]string{"does/not/exist.md"}, "prop_test")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	metaPath, err := w.Resolve(filepath.Join("backups", backupID, "metadata.json"))
	if err != nil {
		t.Fatalf("Resolve metadata path: %v", err)
	}
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("metadata.json was not written: %v", err)
	}

	backups, err := mgr.ListBackups(0)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("ListBackups returned %d entries, want 1", len(backups))
	}
	if len(backups[0].MissingFiles) != 1 || backups[0].MissingFiles[0] != "does/not/exist.md" {
		t.Errorf("MissingFiles = %v, want [does/not/exist.md]", backups[0].MissingFiles)
	}
}
