package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	B string            `cbor:"2,keyasint"`
	A int64             `cbor:"1,keyasint"`
	M map[string]string `cbor:"3,keyasint,omitempty"`
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	// Maps with identical contents built in different insertion orders.
	m1 := map[string]string{}
	m2 := map[string]string{}
	keys := []string{"zeta", "alpha", "mid", "beta"}
	for _, k := range keys {
		m1[k] = k
	}
	for i := len(keys) - 1; i >= 0; i-- {
		m2[keys[i]] = keys[i]
	}

	first, err := Marshal(sample{A: 1, B: "x", M: m1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(sample{A: 1, B: "x", M: m2})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic:\n%x\n%x", first, again)
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sample{A: 42, B: "hello", M: map[string]string{"k": "v"}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.A != in.A || out.B != in.B || out.M["k"] != "v" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sample{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if !strings.Contains(diag, `"x"`) {
		t.Errorf("unexpected diagnostic output %q", diag)
	}
}
