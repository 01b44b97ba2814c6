package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/model"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	if err != nil {
		t.Fatalf("trustgate %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// newTestHome runs init into a temp dir and points the config flag at it.
func newTestHome(t *testing.T, preset string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TRUSTGATE_REDIS_ADDR", "")
	initForce = false
	mustRun(t, "", "init", "--dir", dir, "--preset", preset)
	configPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { configPath = "" })
	return dir
}

func TestInitCreatesLayout(t *testing.T) {
	dir := newTestHome(t, "strict")
	for _, p := range []string{"keys/identity.key", "keys/identity.pub", "policy.md", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}
	data, _ := os.ReadFile(filepath.Join(dir, "policy.md"))
	if !strings.Contains(string(data), "default: deny") {
		t.Errorf("policy.md is not the strict preset:\n%s", data)
	}
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := newTestHome(t, "open")
	first, _ := os.ReadFile(filepath.Join(dir, "keys", "identity.pub"))

	out := mustRun(t, "", "init", "--dir", dir)
	if !strings.Contains(out, "All files already exist") {
		t.Errorf("unexpected output:\n%s", out)
	}
	second, _ := os.ReadFile(filepath.Join(dir, "keys", "identity.pub"))
	if !bytes.Equal(first, second) {
		t.Error("init without --force replaced the keypair")
	}
}

func TestSignAndCheck(t *testing.T) {
	dir := newTestHome(t, "open")
	policyPath := filepath.Join(dir, "policy.md")

	signed := mustRun(t, "", "sign", "--key", filepath.Join(dir, "keys"), "--body", "hello")
	var req model.SignedRequest
	if err := json.Unmarshal([]byte(signed), &req); err != nil {
		t.Fatalf("sign output is not a request: %v\n%s", err, signed)
	}
	if req.Payload.Body != "hello" || req.Signature == "" {
		t.Fatalf("request = %+v", req)
	}

	out := mustRun(t, signed, "check")
	var d model.Decision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("check output: %v\n%s", err, out)
	}
	if !d.Allow {
		t.Fatalf("owner request denied under %s: %+v", policyPath, d)
	}

	verify := mustRun(t, "", "audit", "verify")
	if !strings.HasPrefix(verify, "OK: ") {
		t.Errorf("audit verify: %s", verify)
	}
}

func TestAdminCommandsAndLevel(t *testing.T) {
	newTestHome(t, "careful")
	target := strings.Repeat("ab", 32)

	if out := mustRun(t, "", "promote", target); !strings.Contains(out, "contact") {
		t.Errorf("promote: %s", out)
	}
	if out := mustRun(t, "", "level", target); strings.TrimSpace(out) != "contact" {
		t.Errorf("level: %q", out)
	}
	if out := mustRun(t, "", "list", "contacts"); strings.TrimSpace(out) != target {
		t.Errorf("list contacts: %q", out)
	}
	mustRun(t, "", "block", target)
	if _, err := run(t, "", "promote", target); err == nil {
		t.Error("promoting a blocked identity should fail")
	}
	if out := mustRun(t, "", "unblock", target); !strings.Contains(out, "stranger") {
		t.Errorf("unblock: %s", out)
	}
}

func TestPolicyCommands(t *testing.T) {
	out := mustRun(t, "", "policy", "presets")
	for _, name := range []string{"careful", "open", "strict"} {
		if !strings.Contains(out, name) {
			t.Errorf("presets missing %s: %q", name, out)
		}
	}

	show := mustRun(t, "", "policy", "show", "careful")
	if !strings.HasPrefix(show, "---") {
		t.Errorf("show careful: %q", show)
	}

	path := filepath.Join(t.TempDir(), "p.md")
	os.WriteFile(path, []byte(show), 0600)
	valid := mustRun(t, "", "policy", "validate", path)
	for _, want := range []string{"OK: sha256:", "verify_invite", "trigger 0", "default: deny", "cache: 10m0s"} {
		if !strings.Contains(valid, want) {
			t.Errorf("validate output missing %q:\n%s", want, valid)
		}
	}
}

func TestPolicyDiff(t *testing.T) {
	diffFormat = "text"
	t.Cleanup(func() { diffFormat = "text" })

	out := mustRun(t, "", "policy", "diff", "careful", "strict")
	if !strings.Contains(out, "Policy diff: careful → strict") || !strings.Contains(out, "Rules:") {
		t.Errorf("diff output:\n%s", out)
	}

	same := mustRun(t, "", "policy", "diff", "open", "open")
	if !strings.Contains(same, "No changes detected") {
		t.Errorf("identical diff:\n%s", same)
	}

	js := mustRun(t, "", "policy", "diff", "--format", "json", "strict", "open")
	var r map[string]any
	if err := json.Unmarshal([]byte(js), &r); err != nil || r["has_changes"] != true {
		t.Errorf("json diff %q: %v", js, err)
	}
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "", "version")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil || info["name"] != "trustgate" {
		t.Fatalf("version output %q: %v", out, err)
	}
}
