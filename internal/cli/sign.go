package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/signature"
)

var (
	signKey      string
	signBody     string
	signTo       string
	signInvite   string
	signProvider string
	signPayRef   string
	signAmount   int64
)

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVarP(&signKey, "key", "k", "", "Key directory (default ~/.trustgate/keys)")
	signCmd.Flags().StringVarP(&signBody, "body", "b", "", "Request body (required)")
	signCmd.Flags().StringVar(&signTo, "to", "", "Target identity")
	signCmd.Flags().StringVar(&signInvite, "invite", "", "Invite code")
	signCmd.Flags().StringVar(&signProvider, "pay-provider", "", "Payment provider")
	signCmd.Flags().StringVar(&signPayRef, "pay-ref", "", "Payment reference")
	signCmd.Flags().Int64Var(&signAmount, "pay-amount", 0, "Payment amount in minor units")
	signCmd.MarkFlagRequired("body")
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a request and print it as JSON",
	Long:  "Builds a payload stamped with the current time, signs it with the\nkeypair and prints the signed request for use with 'trustgate check'.",
	RunE:  runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	_, priv, err := signature.LoadKeypair(keyDir(signKey))
	if err != nil {
		return err
	}
	payload := model.Payload{
		Body:       signBody,
		To:         signTo,
		Timestamp:  time.Now().Unix(),
		InviteCode: signInvite,
	}
	if signProvider != "" {
		payload.Payment = &model.PaymentProof{Provider: signProvider, Reference: signPayRef, Amount: signAmount}
	}
	req, err := signature.Sign(priv, payload)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
