// Package rollback implements timestamped file backups and restore,
// grounded on original_source/extensions/evolution/rollback.py.
package rollback

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Status is a backup's lifecycle state, per spec.md §3.
type Status string

const (
	StatusActive     Status = "active"
	StatusRolledBack Status = "rolled_back"
)

// Metadata is a backup's metadata.json content.
type Metadata struct {
	BackupID     string     `json:"backup_id"`
	ProposalID   string     `json:"proposal_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Files        []string   `json:"files"`
	MissingFiles []string   `json:"missing_files,omitempty"`
	Status       Status     `json:"status"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// Manager backs up and restores files under a workspace.
type Manager struct {
	w *store.Workspace
}

func NewManager(w *store.Workspace) *Manager { return &Manager{w: w} }

func backupDirName(proposalID string, now time.Time) string {
	return fmt.Sprintf("backup_%s_%s", now.Format("20060102_150405"), proposalID)
}

// Backup creates a uniquely named directory under backups/, copying
// each of filePaths (normalized to workspace-relative; absolute paths
// outside the workspace are skipped without an error or a log line) to the
// matching subpath. Missing source files are recorded, not treated as
// an error. Metadata is written last.
func (m *Manager) Backup(filePaths []string, proposalID string) (string, error) {
	now := time.Now().UTC()
	name := backupDirName(proposalID, now)

	// Collision-resolve with a numeric suffix.
	suffix := 0
	candidate := name
	for {
		if _, err := m.w.Resolve(filepath.Join("backups", candidate)); err == nil {
			path, _ := m.w.Resolve(filepath.Join("backups", candidate))
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				break
			}
		}
		suffix++
		candidate = fmt.Sprintf("%s_%d", name, suffix)
	}
	backupID := candidate

	var files, missing []string
	for _, raw := range filePaths {
		rel, ok := normalizeWorkspaceRelative(m.w, raw)
		if !ok {
			continue // absolute path outside workspace: skipped, not reported
		}
		srcPath, err := m.w.Resolve(rel)
		if err != nil {
			continue
		}
		if _, err := os.Stat(srcPath); os.IsNotExist(err) {
			missing = append(missing, rel)
			continue
		}
		dstRel := filepath.Join("backups", backupID, rel)
		dstPath, err := m.w.Resolve(dstRel)
		if err != nil {
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return "", apperr.New(apperr.KindInternal, "rollback.Backup", err)
		}
		files = append(files, rel)
	}

	meta := Metadata{
		BackupID: backupID, ProposalID: proposalID, Timestamp: now,
		Files: files, MissingFiles: missing, Status: StatusActive,
	}
	metaRel := filepath.Join("backups", backupID, "metadata.json")
	if err := store.WriteFile(m.w, metaRel, mustJSON(meta)); err != nil {
		return "", err
	}
	return backupID, nil
}

// normalizeWorkspaceRelative matches the rollback manager's path rule:
// absolute paths outside the workspace are rejected; relative paths
// pass through uncontested.
func normalizeWorkspaceRelative(w *store.Workspace, raw string) (string, bool) {
	if !filepath.IsAbs(raw) {
		return raw, true
	}
	resolved, err := w.Resolve(raw)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(w.Root(), resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return rel, true
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func mustJSON(v interface{}) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func (m *Manager) readMetadata(backupID string) (Metadata, error) {
	var meta Metadata
	rel := filepath.Join("backups", backupID, "metadata.json")
	data, err := store.ReadFile(m.w, rel)
	if err != nil {
		return meta, err
	}
	if data == "" {
		return meta, apperr.New(apperr.KindNotFound, "rollback.readMetadata", fmt.Errorf("backup %s not found", backupID))
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return meta, apperr.New(apperr.KindInternal, "rollback.readMetadata", err)
	}
	return meta, nil
}

func (m *Manager) writeMetadata(meta Metadata) error {
	rel := filepath.Join("backups", meta.BackupID, "metadata.json")
	return store.WriteFile(m.w, rel, mustJSON(meta))
}

// Rollback restores every file in the backup. Refuses if the backup's
// status isn't active. Missing-file entries cause the corresponding
// workspace file to be deleted (if present). Any per-file error
// accumulates; on any error overall status is "failed" and metadata is
// left untouched; on success metadata is updated to rolled_back.
func (m *Manager) Rollback(backupID string) error {
	meta, err := m.readMetadata(backupID)
	if err != nil {
		return err
	}
	if meta.Status != StatusActive {
		return apperr.New(apperr.KindConflict, "rollback.Rollback", apperr.ErrRolledBack)
	}

	var errs []error
	for _, rel := range meta.Files {
		srcRel := filepath.Join("backups", backupID, rel)
		srcPath, err := m.w.Resolve(srcRel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dstPath, err := m.w.Resolve(rel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, statErr := os.Stat(srcPath); statErr != nil {
			errs = append(errs, statErr)
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rel := range meta.MissingFiles {
		dstPath, err := m.w.Resolve(rel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, statErr := os.Stat(dstPath); statErr == nil {
			if err := os.Remove(dstPath); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return apperr.New(apperr.KindInternal, "rollback.Rollback", fmt.Errorf("%d file(s) failed: %v", len(errs), errs[0]))
	}

	now := time.Now().UTC()
	meta.Status = StatusRolledBack
	meta.RolledBackAt = &now
	return m.writeMetadata(meta)
}

// ListBackups returns every backup's metadata, newest first, capped
// at limit (0 = unlimited).
func (m *Manager) ListBackups(limit int) ([]Metadata, error) {
	backupsDir, err := m.w.Resolve("backups")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.New(apperr.KindInternal, "rollback.ListBackups", err)
	}

	var all []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := m.readMetadata(e.Name())
		if err != nil {
			continue
		}
		all = append(all, meta)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Cleanup deletes backups (including stale actives) older than
// retentionDays.
func (m *Manager) Cleanup(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	all, err := m.ListBackups(0)
	if err != nil {
		return err
	}
	for _, meta := range all {
		if meta.Timestamp.Before(cutoff) {
			dir, err := m.w.Resolve(filepath.Join("backups", meta.BackupID))
			if err != nil {
				continue
			}
			_ = os.RemoveAll(dir)
		}
	}
	return nil
}

// AutoRollbackCheck rolls back the latest active backup for
// proposalID if (baseline-current)/baseline exceeds threshold.
func (m *Manager) AutoRollbackCheck(proposalID string, current, baseline, threshold float64) (bool, error) {
	if baseline <= 0 {
		return false, nil
	}
	if (baseline-current)/baseline <= threshold {
		return false, nil
	}
	all, err := m.ListBackups(0)
	if err != nil {
		return false, err
	}
	for _, meta := range all {
		if meta.ProposalID == proposalID && meta.Status == StatusActive {
			return true, m.Rollback(meta.BackupID)
		}
	}
	return false, nil
}
