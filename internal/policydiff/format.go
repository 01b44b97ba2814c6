package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	var scalars, onboard, triggers []Change
	for _, c := range r.Changes {
		switch {
		case c.Field == "use_agent":
			triggers = append(triggers, c)
		case strings.HasPrefix(c.Field, "onboard."):
			onboard = append(onboard, c)
		default:
			scalars = append(scalars, c)
		}
	}

	if len(scalars) > 0 {
		b.WriteString("\n")
		for _, c := range scalars {
			writeChange(&b, "  ", c.Field, c)
		}
	}

	if len(onboard) > 0 {
		b.WriteString("\n  Onboarding:\n")
		for _, c := range onboard {
			writeChange(&b, "    ", strings.TrimPrefix(c.Field, "onboard."), c)
		}
	}

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Rules:\n")
		for _, rc := range r.RuleChanges {
			switch rc.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s\n", rc.Rule)
			case "removed":
				fmt.Fprintf(&b, "    - %s\n", rc.Rule)
			case "changed", "moved":
				fmt.Fprintf(&b, "    ~ %s\n", rc.Rule)
			}
		}
	}

	if len(triggers) > 0 {
		b.WriteString("\n  Escalation triggers:\n")
		for _, c := range triggers {
			switch c.Comment {
			case "added":
				fmt.Fprintf(&b, "    + %s\n", c.New)
			case "removed":
				fmt.Fprintf(&b, "    - %s\n", c.Old)
			}
		}
	}

	return b.String()
}

func writeChange(b *strings.Builder, indent, name string, c Change) {
	fmt.Fprintf(b, "%s%-22s %s → %s", indent, name+":", c.Old, c.New)
	if c.Comment != "" {
		fmt.Fprintf(b, "  (%s)", c.Comment)
	}
	b.WriteString("\n")
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
