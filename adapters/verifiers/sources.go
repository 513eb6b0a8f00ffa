package verifiers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"investigator/internal/casefile"
	"investigator/internal/gap"
	"investigator/internal/verify"
)

func isSource(s string) bool { return casefile.IsSourceID(s) }

// Metadata is evidence/S###/metadata.json as written by the capture tool.
type Metadata struct {
	URL        string `json:"url"`
	CapturedAt string `json:"captured_at"`
	Title      string `json:"title,omitempty"`
}

// Sources audits evidence/: folder names must be source IDs and every
// source needs capture metadata with a URL and capture time.
func Sources(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	entries, err := os.ReadDir(filepath.Join(caseDir, casefile.EvidenceDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result(nil), nil
		}
		return verify.Result{}, fmt.Errorf("read evidence: %w", err)
	}

	var gaps []gap.Gap
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !isSource(name) {
			gaps = append(gaps, gap.Gap{
				Type:             gap.TypeInvalidSource,
				Object:           map[string]any{"dir": filepath.Join(casefile.EvidenceDir, name)},
				Message:          fmt.Sprintf("evidence folder %q is not a source ID", name),
				SuggestedActions: []string{"rename it to S### or move it out of " + casefile.EvidenceDir + "/"},
			})
			continue
		}
		if problem := checkMetadata(caseDir, name); problem != "" {
			gaps = append(gaps, gap.Gap{
				Type:             gap.TypeMissingMetadata,
				Object:           map[string]any{"source_id": name},
				Message:          fmt.Sprintf("source %s has no usable capture metadata", name),
				SuggestedActions: []string{problem, "record url and captured_at in " + filepath.Join(casefile.EvidenceDir, name, casefile.MetadataFile)},
			})
		}
	}
	loggerOf(opts, NameSources).Debug("evidence audited", "folders", len(entries), "gaps", len(gaps))
	return result(gaps), nil
}

// checkMetadata returns a description of what is wrong, or "".
func checkMetadata(caseDir, id string) string {
	md, err := casefile.ReadJSON[Metadata](filepath.Join(casefile.EvidencePath(caseDir, id), casefile.MetadataFile))
	switch {
	case err != nil:
		return casefile.MetadataFile + " is malformed"
	case md == nil:
		return casefile.MetadataFile + " is missing"
	case strings.TrimSpace(md.URL) == "":
		return "url is empty"
	case strings.TrimSpace(md.CapturedAt) == "":
		return "captured_at is empty"
	}
	return ""
}
