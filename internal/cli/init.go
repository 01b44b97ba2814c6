package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/signature"
)

var (
	initPreset string
	initDir    string
	initForce  bool
)

func init() {
	initCmd.Flags().StringVar(&initPreset, "preset", "careful", "Preset to copy into policy.md (open, careful, strict)")
	initCmd.Flags().StringVar(&initDir, "dir", "", "Configuration directory (default ~/.trustgate)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap trustgate configuration",
	Long: `Creates the configuration directory with an owner keypair, empty
trust lists, an editable copy of a preset policy and a config.yaml that
points at them. Existing files are kept unless --force is given.`,
	RunE: runInit,
}

// initConfig is the subset of config.Config written by init.
type initConfig struct {
	Self     string `yaml:"self"`
	KeyDir   string `yaml:"key_dir"`
	Policy   string `yaml:"policy"`
	ListsDir string `yaml:"lists_dir"`
	ClientDB string `yaml:"client_db"`
	AuditLog string `yaml:"audit_log"`
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.HomeDir()
	}
	out := cmd.OutOrStdout()
	var created []string

	keys := filepath.Join(dir, "keys")
	pub, _, err := signature.LoadKeypair(keys)
	if err != nil || initForce {
		p, priv, err := signature.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := signature.SaveKeypair(keys, p, priv); err != nil {
			return err
		}
		pub = p
		created = append(created, keys)
	}
	self := signature.IdentityFromPublicKey(pub)

	lists := filepath.Join(dir, "lists")
	if err := os.MkdirAll(lists, 0o700); err != nil {
		return fmt.Errorf("create lists directory: %w", err)
	}

	src, err := policy.PresetSource(initPreset)
	if err != nil {
		return err
	}
	policyPath := filepath.Join(dir, "policy.md")
	if wrote, err := writeIfMissing(policyPath, src); err != nil {
		return err
	} else if wrote {
		created = append(created, policyPath)
	}

	cfg, err := yaml.Marshal(initConfig{
		Self:     string(self),
		KeyDir:   keys,
		Policy:   policyPath,
		ListsDir: lists,
		ClientDB: filepath.Join(dir, "clients.db"),
		AuditLog: filepath.Join(dir, "audit.jsonl"),
	})
	if err != nil {
		return err
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	if wrote, err := writeIfMissing(cfgPath, append([]byte("# trustgate configuration\n"), cfg...)); err != nil {
		return err
	} else if wrote {
		created = append(created, cfgPath)
	}

	fmt.Fprintln(out, "trustgate init complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Owner identity:\n  %s\n", self)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path string, content []byte) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
