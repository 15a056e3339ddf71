package dispatch

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("driftgate: %s", event.Decision),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:* %s", event.SubjectID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Sequence:* %d", event.Sequence)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Drift:* %.3f (%s)", event.Score, event.Trend)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch event.Decision {
	case "block":
		severity = "critical"
	case "flag":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("driftgate %s: %s", event.Decision, event.SubjectID),
			"severity": severity,
			"source":   "driftgate",
			"custom_details": map[string]any{
				"subject_id":       event.SubjectID,
				"sequence":         event.Sequence,
				"divergence_score": event.Score,
				"trend":            event.Trend,
				"reason":           event.Reason,
			},
		},
	}
	return json.Marshal(payload)
}
