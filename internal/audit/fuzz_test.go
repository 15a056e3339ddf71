package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	// Seed with a valid 3-entry chain
	tmpDir := f.TempDir()
	validTrail := filepath.Join(tmpDir, "valid.jsonl")
	log, err := Open(validTrail)
	if err != nil {
		f.Fatal(err)
	}
	for i := uint64(1); i <= 3; i++ {
		log.Record(Entry{
			SubjectID:  "S-fuzz",
			Sequence:   i,
			Decision:   "allow",
			Reason:     "all layers passed",
			Trend:      "stable",
			PolicyHash: "sha256:test",
		})
	}
	log.Close()
	validData, _ := os.ReadFile(validTrail)
	f.Add(validData)

	// Empty
	f.Add([]byte{})

	// Single garbage line
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))

	// Totally invalid
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		tmpFile := filepath.Join(t.TempDir(), "fuzz.jsonl")
		os.WriteFile(tmpFile, data, 0644)

		// Must not panic
		Verify(tmpFile)
	})
}
