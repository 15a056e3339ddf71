package dispatch

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["block", "flag"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string  `json:"timestamp"`
	SubjectID  string  `json:"subject_id"`
	Sequence   uint64  `json:"sequence"`
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	Score      float64 `json:"divergence_score"`
	Trend      string  `json:"trend"`
	PolicyHash string  `json:"policy_hash"`
}
