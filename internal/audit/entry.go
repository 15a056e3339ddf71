package audit

// Entry is one line in the hash-chained JSONL decision trail.
// All fields are scalars (no map[string]any) to guarantee
// deterministic json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string  `json:"ts"`
	SubjectID  string  `json:"subject_id"`
	Sequence   uint64  `json:"sequence"`
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	Score      float64 `json:"divergence_score"`
	Trend      string  `json:"trend"`
	PolicyHash string  `json:"policy_hash"`
	PrevHash   string  `json:"prev_hash"`
}
