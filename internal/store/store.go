// Package store implements the durable file substrate: append-only
// JSONL logs and small YAML artifacts under a workspace directory,
// matching the layout original_source/core/workspace.py establishes
// and spec.md §6 names (traces/, reflections/, signals/, metrics/,
// backups/, proposals/, config.yaml).
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
	"gopkg.in/yaml.v3"
)

// Workspace roots every file operation at a base directory and refuses
// to read or write outside it, mirroring workspace.py's directory
// bootstrap and the teacher's restrict-to-workspace path checks.
type Workspace struct {
	root string
	mu   sync.Mutex // serializes directory creation / file appends per workspace
}

// Layout is the set of sub-directories a fresh workspace is seeded
// with.
var Layout = []string{
	"traces",
	"reflections",
	"signals",
	"metrics",
	"backups",
	"proposals",
	"observations",
}

// NewWorkspace creates (if needed) root and its standard sub-directories.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "store.NewWorkspace", err)
	}
	w := &Workspace{root: abs}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.New(apperr.KindInternal, "store.NewWorkspace", err)
	}
	for _, dir := range Layout {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, apperr.New(apperr.KindInternal, "store.NewWorkspace", err)
		}
	}
	return w, nil
}

// Root returns the workspace's absolute root directory.
func (w *Workspace) Root() string { return w.root }

// Resolve joins rel onto the workspace root and rejects any path that
// would escape it (matching the rollback manager's workspace-relative
// normalization rule: absolute paths outside the workspace are
// rejected, relative paths are joined and must stay inside).
func (w *Workspace) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		cleaned := filepath.Clean(rel)
		if !strings.HasPrefix(cleaned, w.root+string(filepath.Separator)) && cleaned != w.root {
			return "", apperr.New(apperr.KindValidation, "store.Resolve", fmt.Errorf("path %q escapes workspace", rel))
		}
		return cleaned, nil
	}
	joined := filepath.Join(w.root, rel)
	if !strings.HasPrefix(joined, w.root+string(filepath.Separator)) && joined != w.root {
		return "", apperr.New(apperr.KindValidation, "store.Resolve", fmt.Errorf("path %q escapes workspace", rel))
	}
	return joined, nil
}

// AppendJSONL marshals v and appends it as one line to the JSONL file
// at rel (relative to the workspace root), creating parent directories
// as needed. Matches the append-only log format every Python extension
// module writes through (reflections.jsonl, signals/active.jsonl,
// metrics/events.jsonl, etc).
func AppendJSONL(w *Workspace, rel string, v interface{}) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendJSONL", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendJSONL", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendJSONL", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendJSONL", err)
	}
	return nil
}

// ReadJSONL reads every line of rel, decoding it with decode. Missing
// files are treated as empty (no records), matching the Python
// original's lenient "file may not exist yet" read path.
func ReadJSONL(w *Workspace, rel string, decode func(line []byte) error) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.New(apperr.KindInternal, "store.ReadJSONL", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := decode(line); err != nil {
			return apperr.New(apperr.KindInternal, "store.ReadJSONL", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return apperr.New(apperr.KindInternal, "store.ReadJSONL", err)
	}
	return nil
}

// RewriteJSONL atomically replaces rel's content with lines, used by
// the signals store to rewrite the active set after marking a signal
// handled (rewrite-active, append-archive semantics).
func RewriteJSONL(w *Workspace, rel string, lines [][]byte) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "store.RewriteJSONL", err)
	}
	tmp := path + ".tmp"
	var b strings.Builder
	for _, l := range lines {
		b.Write(l)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return apperr.New(apperr.KindInternal, "store.RewriteJSONL", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperr.New(apperr.KindInternal, "store.RewriteJSONL", err)
	}
	return nil
}

// WriteYAML marshals v as YAML and writes it to rel, overwriting any
// existing content (used for metrics daily summaries and config).
func WriteYAML(w *Workspace, rel string, v interface{}) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return apperr.New(apperr.KindInternal, "store.WriteYAML", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "store.WriteYAML", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.New(apperr.KindInternal, "store.WriteYAML", err)
	}
	return nil
}

// ReadYAML decodes rel's YAML content into v. A missing file leaves v
// untouched and returns nil, matching ReadJSONL's lenient behavior.
func ReadYAML(w *Workspace, rel string, v interface{}) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.New(apperr.KindInternal, "store.ReadYAML", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return apperr.New(apperr.KindInternal, "store.ReadYAML", err)
	}
	return nil
}

// AppendMarkdown appends text to rel, creating the file (with parent
// dirs) if it doesn't exist yet. Used for preferences.md / error_patterns.md.
func AppendMarkdown(w *Workspace, rel string, text string) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendMarkdown", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendMarkdown", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return apperr.New(apperr.KindInternal, "store.AppendMarkdown", err)
	}
	return nil
}

// WriteFile overwrites rel with data, creating parent directories.
func WriteFile(w *Workspace, rel string, data string) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "store.WriteFile", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return apperr.New(apperr.KindInternal, "store.WriteFile", err)
	}
	return nil
}

// ListDir returns the base names of regular files directly under rel,
// sorted lexically. A missing directory returns (nil, nil), matching
// ReadJSONL's lenient not-yet-created semantics.
func ListDir(w *Workspace, rel string) ([]string, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.New(apperr.KindInternal, "store.ListDir", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether rel exists inside the workspace.
func Exists(w *Workspace, rel string) bool {
	path, err := w.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// ReadFile reads rel's full contents as a string. Missing files return "".
func ReadFile(w *Workspace, rel string) (string, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", apperr.New(apperr.KindInternal, "store.ReadFile", err)
	}
	return string(data), nil
}
