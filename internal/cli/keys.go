package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/signature"
)

var (
	keygenOut   string
	keygenForce bool
	identityKey string
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(identityCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "Key directory (default ~/.trustgate/keys)")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing keypair")
	identityCmd.Flags().StringVarP(&identityKey, "key", "k", "", "Key directory (default ~/.trustgate/keys)")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 keypair",
	Long:  "Writes identity.key (0600) and identity.pub (0644) and prints the\nidentity, which is the hex-encoded public key.",
	RunE:  runKeygen,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the identity of a keypair",
	RunE:  runIdentity,
}

func keyDir(flag string) string {
	if flag != "" {
		return flag
	}
	return filepath.Join(config.HomeDir(), "keys")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	dir := keyDir(keygenOut)
	if _, _, err := signature.LoadKeypair(dir); err == nil && !keygenForce {
		return fmt.Errorf("keypair already exists in %s (use --force to replace it)", dir)
	}
	pub, priv, err := signature.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := signature.SaveKeypair(dir, pub, priv); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "keypair written to %s\n", dir)
	fmt.Fprintln(cmd.OutOrStdout(), signature.IdentityFromPublicKey(pub))
	return nil
}

func runIdentity(cmd *cobra.Command, args []string) error {
	pub, _, err := signature.LoadKeypair(keyDir(identityKey))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signature.IdentityFromPublicKey(pub))
	return nil
}
