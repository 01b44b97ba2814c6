package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, ev Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(ev)
	default:
		return json.Marshal(ev)
	}
}

func formatSlack(ev Event) ([]byte, error) {
	var fields []any
	add := func(label, value string) {
		if value != "" {
			fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %s", label, value)})
		}
	}
	add("Client", short(ev.Identity))
	if ev.From != "" || ev.To != "" {
		add("Level", ev.From+" → "+ev.To)
	}
	add("Actor", short(ev.Actor))
	add("Reason", ev.Reason)
	add("Policy", ev.PolicyHash)

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": "trustgate: " + ev.Type,
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
