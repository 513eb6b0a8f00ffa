package gate

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"investigator/internal/casefile"
	"investigator/internal/cite"
	"investigator/internal/config"
	"investigator/internal/ledger"
)

// digestKey separates input digests from any other BLAKE3 use. ASCII,
// zero-padded to 32 bytes.
var digestKey = [32]byte{
	'i', 'n', 'v', 'e', 's', 't', 'i', 'g', 'a', 't', 'o', 'r', '.', 'g', 'a', 't',
	'e', '.', 'i', 'n', 'p', 'u', 't', 's', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Inputs is the read-only view of a case handed to every check. Reads are
// cached and recorded so the report can carry a digest of exactly what the
// gates saw. Safe for concurrent use.
type Inputs struct {
	CaseDir string
	Config  *config.Config

	mu       sync.Mutex
	files    map[string]fileRead
	docs     map[string]cite.Doc
	recorded map[string]string
}

type fileRead struct {
	data   []byte
	exists bool
	err    error
}

func newInputs(caseDir string, cfg *config.Config) *Inputs {
	return &Inputs{
		CaseDir:  caseDir,
		Config:   cfg,
		files:    map[string]fileRead{},
		docs:     map[string]cite.Doc{},
		recorded: map[string]string{},
	}
}

func (in *Inputs) record(key, token string) {
	in.mu.Lock()
	in.recorded[key] = token
	in.mu.Unlock()
}

// Read returns the bytes of a case-relative file. exists is false when the
// file is missing; err is set for any other read failure.
func (in *Inputs) Read(rel string) (data []byte, exists bool, err error) {
	in.mu.Lock()
	if fr, ok := in.files[rel]; ok {
		in.mu.Unlock()
		return fr.data, fr.exists, fr.err
	}
	in.mu.Unlock()

	fr := fileRead{}
	b, rerr := os.ReadFile(filepath.Join(in.CaseDir, rel))
	token := "absent"
	switch {
	case rerr == nil:
		fr.data, fr.exists = b, true
		sum := blake3.Sum256(b)
		token = hex.EncodeToString(sum[:])
	case errors.Is(rerr, os.ErrNotExist):
	default:
		fr.err = fmt.Errorf("read %s: %w", rel, rerr)
		token = "error"
	}

	in.mu.Lock()
	in.files[rel] = fr
	in.recorded[rel] = token
	in.mu.Unlock()
	return fr.data, fr.exists, fr.err
}

// NonEmpty reports whether rel exists and holds more than whitespace.
func (in *Inputs) NonEmpty(rel string) (bool, error) {
	data, exists, err := in.Read(rel)
	if err != nil || !exists {
		return false, err
	}
	return strings.TrimSpace(string(data)) != "", nil
}

// Markdown parses rel for citations and headings.
func (in *Inputs) Markdown(rel string) (cite.Doc, bool, error) {
	data, exists, err := in.Read(rel)
	if err != nil || !exists {
		return cite.Doc{Empty: true}, exists, err
	}
	in.mu.Lock()
	doc, ok := in.docs[rel]
	in.mu.Unlock()
	if ok {
		return doc, true, nil
	}
	doc = cite.Parse(data)
	in.mu.Lock()
	in.docs[rel] = doc
	in.mu.Unlock()
	return doc, true, nil
}

// JSON decodes rel into v. A missing file returns exists=false; a file that
// does not decode returns an error wrapping casefile.ErrSchemaMismatch.
func (in *Inputs) JSON(rel string, v any) (bool, error) {
	data, exists, err := in.Read(rel)
	if err != nil || !exists {
		return exists, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w: %v", rel, casefile.ErrSchemaMismatch, err)
	}
	return true, nil
}

// Ledger loads leads.json. A missing ledger returns nil, nil.
func (in *Inputs) Ledger() (*ledger.Document, error) {
	var doc ledger.Document
	exists, err := in.JSON(casefile.LeadsFile, &doc)
	if err != nil || !exists {
		return nil, err
	}
	return &doc, nil
}

// ModTime returns the modification time of rel.
func (in *Inputs) ModTime(rel string) (time.Time, bool) {
	fi, err := os.Stat(filepath.Join(in.CaseDir, rel))
	if err != nil {
		in.record(rel+"#mtime", "absent")
		return time.Time{}, false
	}
	in.record(rel+"#mtime", strconv.FormatInt(fi.ModTime().UnixNano(), 10))
	return fi.ModTime(), true
}

// Captured reports whether evidence/<id>/ holds a non-empty file.
func (in *Inputs) Captured(id string) bool {
	ok := casefile.EvidenceCaptured(in.CaseDir, id)
	token := "absent"
	if ok {
		token = "captured"
	}
	in.record(casefile.EvidenceDir+"/"+id+"/", token)
	return ok
}

// ScanSet returns the configured scan files plus findings/*.md.
func (in *Inputs) ScanSet() ([]string, error) {
	files := append([]string(nil), in.Config.Gates.ScanFiles...)
	findings, err := casefile.ListMarkdown(in.CaseDir, casefile.FindingsDir)
	if err != nil {
		return nil, err
	}
	in.record(casefile.FindingsDir+"/", strings.Join(findings, ","))
	return append(files, findings...), nil
}

// Digest returns a keyed BLAKE3 digest over everything read so far.
func (in *Inputs) Digest() string {
	in.mu.Lock()
	keys := make([]string, 0, len(in.recorded))
	for k := range in.recorded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h, _ := blake3.NewKeyed(digestKey[:])
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(in.recorded[k]))
		_, _ = h.Write([]byte{'\n'})
	}
	in.mu.Unlock()
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}
