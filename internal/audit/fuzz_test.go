package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerifyReader(f *testing.F) {
	path := filepath.Join(f.TempDir(), "seed.jsonl")
	l, err := Open(path)
	if err != nil {
		f.Fatal(err)
	}
	for _, v := range []string{"allow", "deny", "allow"} {
		l.Record(decision("seed", v))
	}
	l.Close()
	valid, _ := os.ReadFile(path)

	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte(`{"prev_hash":"` + GenesisHash + `"}` + "\n"))
	f.Add([]byte("not json"))

	f.Fuzz(func(t *testing.T, data []byte) {
		res := VerifyReader(bytes.NewReader(data))
		if res.Valid && res.ErrorLine != 0 {
			t.Fatalf("valid result with error line %d", res.ErrorLine)
		}
	})
}
