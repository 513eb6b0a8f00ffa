// Package casefile knows where every artifact lives inside a case directory
// and how to read and write the JSON ones.
package casefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrSchemaMismatch marks a persisted JSON file that exists but does not
// parse into the expected shape. Callers treat it as a hard failure of that
// read; it is never silently defaulted.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Well-known file names, relative to the case directory.
const (
	StateFile      = "state.json"
	LeadsFile      = "leads.json"
	ArticleFile    = "article.md"
	SummaryFile    = "summary.md"
	ClaimsFile     = "claims.json"
	ControlDir     = "control"
	EvidenceDir    = "evidence"
	FindingsDir    = "findings"
	QuestionsDir   = "questions"
	MetadataFile   = "metadata.json"
	ConfigFileYAML = "investigator.yaml"
)

// Control artifacts, relative to the control directory.
const (
	GateResultsFile    = "gate_results.json"
	GapsFile           = "gaps.json"
	DigestFile         = "digest.json"
	CuriosityFile      = "curiosity.json"
	IntegrityFile      = "integrity-review.json"
	LegalFile          = "legal-review.json"
	CitationChecksFile = "citation-checks.json"
	HistoryDBFile      = "history.db"
)

var sourceIDPattern = regexp.MustCompile(`^S\d{3,}$`)

// IsSourceID reports whether s looks like a source identifier (S001, S1234).
func IsSourceID(s string) bool {
	return sourceIDPattern.MatchString(s)
}

// Path joins a case-relative path onto caseDir.
func Path(caseDir string, elem ...string) string {
	return filepath.Join(append([]string{caseDir}, elem...)...)
}

// ControlPath returns the path of a file inside the case's control directory.
func ControlPath(caseDir, name string) string {
	return filepath.Join(caseDir, ControlDir, name)
}

// EvidencePath returns the evidence folder for a source ID.
func EvidencePath(caseDir, sourceID string) string {
	return filepath.Join(caseDir, EvidenceDir, sourceID)
}

// EnsureControlDir creates <case>/control if it doesn't exist.
func EnsureControlDir(caseDir string) error {
	if err := os.MkdirAll(filepath.Join(caseDir, ControlDir), 0755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	return nil
}

// ReadJSON reads a typed JSON artifact from path.
// Returns nil, nil if the file does not exist. A file that exists but does
// not parse returns an error wrapping ErrSchemaMismatch.
func ReadJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", filepath.Base(path), ErrSchemaMismatch, err)
	}
	return &result, nil
}

// WriteJSON writes v as indented JSON to path atomically: the bytes land in a
// temp file in the same directory which is then renamed over path. The parent
// directory is created if needed.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, buf.Bytes(), 0644)
}

// WriteFileAtomic writes data to path using a temp file + rename.
// If the operation fails, the original file (if any) is left unchanged.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".investigator-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// NonEmptyFile reports whether path is a regular file whose content is not
// only whitespace.
func NonEmptyFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(data)) > 0
}

// EvidenceCaptured reports whether evidence/<sourceID>/ holds at least one
// non-empty regular file. Nested directories are searched.
func EvidenceCaptured(caseDir, sourceID string) bool {
	root := EvidencePath(caseDir, sourceID)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	found := false
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil && fi.Size() > 0 {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

// ListEvidence returns the source IDs that have an evidence folder, sorted.
func ListEvidence(caseDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(caseDir, EvidenceDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && IsSourceID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// ListMarkdown returns the .md files directly under <case>/<dir>, sorted by name.
// A missing directory yields no files and no error.
func ListMarkdown(caseDir, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(caseDir, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
