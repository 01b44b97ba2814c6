package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyPresetsCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyDiffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy document operations",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a policy file and summarize it",
	Long:  "Parses the front matter and reports the first error with its line.\nExits 0 if valid, 1 otherwise.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyValidate,
}

var policyPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available presets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range policy.Presets() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show <preset>",
	Short: "Print a preset's source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := policy.PresetSource(args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(src)
		return err
	},
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show what changes between two policies",
	Long:  "Each argument is a policy file or a preset name.\nInvite codes are counted, never printed.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyDiff,
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	old, err := loadPolicyArg(args[0])
	if err != nil {
		return err
	}
	cur, err := loadPolicyArg(args[1])
	if err != nil {
		return err
	}
	r := policydiff.Diff(old, cur)
	r.OldPath, r.NewPath = args[0], args[1]

	switch diffFormat {
	case "json":
		out, err := policydiff.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	case "text":
		fmt.Fprint(cmd.OutOrStdout(), policydiff.FormatText(r))
	default:
		return fmt.Errorf("unknown format %q: use text or json", diffFormat)
	}
	return nil
}

// loadPolicyArg treats an existing path as a file and anything else as a preset.
func loadPolicyArg(arg string) (*policy.Document, error) {
	if _, err := os.Stat(arg); err == nil {
		return policy.Load(arg)
	}
	return policy.Preset(arg)
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	doc, hash, err := policy.LoadWithHash(args[0])
	if err != nil {
		kind := "error"
		switch {
		case errors.Is(err, policy.ErrUnknownRuleToken):
			kind = "unknown token"
		case errors.Is(err, policy.ErrPolicyParse):
			kind = "parse error"
		}
		fmt.Fprintf(os.Stderr, "INVALID (%s): %v\n", kind, err)
		os.Exit(1)
	}
	fmt.Fprint(cmd.OutOrStdout(), describePolicy(doc, hash))
	return nil
}

func describePolicy(doc *policy.Document, hash string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK: %s\n", hash)
	for i, r := range doc.Rules {
		line := fmt.Sprintf("  rule %d: %s -> %s", i+1, r.Condition, r.Action)
		if r.Level != "" {
			line += fmt.Sprintf(" [level %s]", r.Level)
		}
		if r.Transition != nil {
			line += fmt.Sprintf(" then %s", *r.Transition)
		}
		b.WriteString(line + "\n")
	}
	for i, t := range doc.Triggers {
		fmt.Fprintf(&b, "  trigger %d: %s\n", i, t)
	}
	fmt.Fprintf(&b, "  default: %s\n", doc.Default)
	fmt.Fprintf(&b, "  cache: %s\n", doc.CacheTTL)
	fmt.Fprintf(&b, "  instructions: %d bytes\n", len(doc.Instructions))
	return b.String()
}
