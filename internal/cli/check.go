package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var checkRequest string

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkRequest, "request", "r", "-", "Signed request JSON file, - for stdin")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide a signed request",
	Long: "Runs a signed request through the configured engine and prints the\n" +
		"decision as JSON. The decision is recorded like any other: counters,\n" +
		"cache, transitions and the audit log are all updated.\n\n" +
		"Exit code 0 if allowed, 1 if denied.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	req, err := readRequest(cmd.InOrStdin(), checkRequest)
	if err != nil {
		return err
	}

	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := e.Decide(cmd.Context(), req)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !d.Allow {
		e.Close()
		os.Exit(1)
	}
	return nil
}

func readRequest(stdin io.Reader, path string) (model.SignedRequest, error) {
	var data []byte
	var err error
	if path == "-" || path == "" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.SignedRequest{}, fmt.Errorf("read request: %w", err)
	}
	var req model.SignedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return model.SignedRequest{}, fmt.Errorf("parse request: %w", err)
	}
	return req, nil
}
