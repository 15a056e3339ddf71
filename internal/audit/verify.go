package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Decisions map[string]int `json:"decisions,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

// Verify reads a JSONL decision trail and validates the hash chain:
// each entry's prev_hash must equal the SHA-256 of the previous line,
// and the first entry must reference the genesis hash. On success the
// result also carries per-decision entry counts.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	decisions := make(map[string]int)
	expected := GenesisHash
	lineNum := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++

		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}
		if entry.PrevHash != expected {
			return VerifyResult{
				Error:     fmt.Sprintf("chain broken: prev_hash %s, expected %s", entry.PrevHash, expected),
				ErrorLine: lineNum,
			}
		}

		decisions[entry.Decision]++
		// The next entry must chain onto this exact line.
		expected = HashLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	if lineNum == 0 {
		return VerifyResult{Valid: true}
	}
	return VerifyResult{Valid: true, Lines: lineNum, Decisions: decisions}
}
