package verifiers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"investigator/internal/casefile"
)

// Claim is one extracted factual claim from claims.json.
type Claim struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
	File    string   `json:"file,omitempty"`
}

// loadClaims reads claims.json, accepting either {"claims": [...]} or a bare
// array. A missing file yields no claims; IDs default to C### by position.
func loadClaims(caseDir string) ([]Claim, error) {
	data, err := os.ReadFile(casefile.Path(caseDir, casefile.ClaimsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read claims: %w", err)
	}
	data = bytes.TrimSpace(data)
	var claims []Claim
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &claims)
	} else {
		var doc struct {
			Claims []Claim `json:"claims"`
		}
		err = json.Unmarshal(data, &doc)
		claims = doc.Claims
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", casefile.ClaimsFile, casefile.ErrSchemaMismatch, err)
	}
	for i := range claims {
		if claims[i].ID == "" {
			claims[i].ID = fmt.Sprintf("C%03d", i+1)
		}
	}
	return claims, nil
}

// CitationCheck is one semantic verification result produced by an external
// checker into control/citation-checks.json.
type CitationCheck struct {
	SourceID string `json:"source_id"`
	ClaimID  string `json:"claim_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Citation check statuses.
const (
	CheckSupported   = "supported"
	CheckUnsupported = "unsupported"
	CheckNotFound    = "not_found"
)

func loadCitationChecks(caseDir string) ([]CitationCheck, bool, error) {
	doc, err := casefile.ReadJSON[struct {
		Checks []CitationCheck `json:"checks"`
	}](casefile.ControlPath(caseDir, casefile.CitationChecksFile))
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, nil
	}
	return doc.Checks, true, nil
}
