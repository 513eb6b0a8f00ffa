package verify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"investigator/internal/gap"
)

// Decode reads verifier output that may come from independently written
// tools. The verdict is taken from "passed" or, failing that, "overall"
// (bool or a PASS/FAIL string). Gap entries that are not objects are
// skipped. When neither verdict field is present the verdict is inferred
// from an empty gap list.
func Decode(data []byte, verifier string) (Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty verifier output")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Result{}, fmt.Errorf("decode verifier output: %w", err)
	}
	var res Result
	for _, raw := range asSlice(m["gaps"]) {
		gm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		res.Gaps = append(res.Gaps, gap.FromMap(gm, verifier))
	}
	if v, ok := verdict(m["passed"]); ok {
		res.Passed = v
	} else if v, ok := verdict(m["overall"]); ok {
		res.Passed = v
	} else {
		res.Passed = len(res.Gaps) == 0
	}
	return res, nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func verdict(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "PASS", "PASSED", "TRUE", "OK":
			return true, true
		case "FAIL", "FAILED", "FALSE":
			return false, true
		}
	case map[string]any:
		// {"overall": {"passed": true}}
		return verdict(t["passed"])
	}
	return false, false
}
