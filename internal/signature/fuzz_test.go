package signature

import (
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

func FuzzVerify(f *testing.F) {
	f.Add("hello", "abcd", "00", int64(0))
	f.Add("", "", "", int64(-1))
	f.Add("body", "payment-42", "ffff", time.Now().Unix())

	v := NewVerifier(0)
	f.Fuzz(func(t *testing.T, body, from, sig string, ts int64) {
		req := model.SignedRequest{
			Payload:   model.Payload{Body: body, Timestamp: ts},
			From:      model.ClientIdentity(from),
			Signature: sig,
		}
		// Random inputs must never verify and never panic.
		if ok, _ := v.Verify(req, time.Now()); ok {
			t.Fatalf("random input verified: %+v", req)
		}
	})
}
