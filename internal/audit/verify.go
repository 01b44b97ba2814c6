package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of a chain check. On failure ErrorLine is
// the 1-based line where the chain first breaks.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	Lines       int    `json:"lines"`
	Decisions   int    `json:"decisions"`
	Transitions int    `json:"transitions"`
	Head        string `json:"head,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorLine   int    `json:"error_line,omitempty"`
}

// Verify checks the hash chain of the log file at path.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader checks the hash chain of a log stream.
func VerifyReader(r io.Reader) VerifyResult {
	var res VerifyResult
	want := GenesisHash

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fail(res, fmt.Sprintf("parse error: %v", err))
		}
		if entry.PrevHash != want {
			if res.Lines == 1 {
				return fail(res, fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash))
			}
			return fail(res, fmt.Sprintf("hash mismatch: expected %s, got %s", want, entry.PrevHash))
		}
		switch entry.Type {
		case TypeDecision:
			res.Decisions++
		case TypeTransition:
			res.Transitions++
		}
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		res.Error = fmt.Sprintf("scan: %v", err)
		return res
	}
	res.Valid = true
	if res.Lines > 0 {
		res.Head = want
	}
	return res
}

func fail(res VerifyResult, msg string) VerifyResult {
	res.Valid = false
	res.Error = msg
	res.ErrorLine = res.Lines
	return res
}
