package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return priv
}

func signAt(t *testing.T, priv ed25519.PrivateKey, body string, ts time.Time) model.SignedRequest {
	t.Helper()
	req, err := Sign(priv, model.Payload{Body: body, Timestamp: ts.Unix()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return req
}

func TestVerifyValidRequest(t *testing.T) {
	priv := newTestKey(t)
	req := signAt(t, priv, "hello", testNow)

	ok, kind := NewVerifier(0).Verify(req, testNow)
	if !ok {
		t.Fatalf("expected valid request, got %s", kind)
	}
}

func TestVerifyTamperedBody(t *testing.T) {
	priv := newTestKey(t)
	req := signAt(t, priv, "hello", testNow)
	req.Payload.Body = "hello!"

	ok, kind := NewVerifier(0).Verify(req, testNow)
	if ok || kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got ok=%v kind=%s", ok, kind)
	}
}

func TestVerifyWrongIdentity(t *testing.T) {
	req := signAt(t, newTestKey(t), "hello", testNow)
	other := newTestKey(t)
	req.From = IdentityFromPublicKey(other.Public().(ed25519.PublicKey))

	ok, kind := NewVerifier(0).Verify(req, testNow)
	if ok || kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got ok=%v kind=%s", ok, kind)
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	good := signAt(t, newTestKey(t), "hello", testNow)

	tests := []struct {
		name   string
		mutate func(*model.SignedRequest)
	}{
		{"non-hex identity", func(r *model.SignedRequest) { r.From = "payment-42" }},
		{"short identity", func(r *model.SignedRequest) { r.From = "abcd" }},
		{"non-hex signature", func(r *model.SignedRequest) { r.Signature = "zz" }},
		{"truncated signature", func(r *model.SignedRequest) { r.Signature = r.Signature[:64] }},
		{"empty signature", func(r *model.SignedRequest) { r.Signature = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := good
			tt.mutate(&req)
			ok, kind := NewVerifier(0).Verify(req, testNow)
			if ok || kind != InvalidSignature {
				t.Errorf("expected InvalidSignature, got ok=%v kind=%s", ok, kind)
			}
		})
	}
}

func TestVerifyExpiredEvenWithValidSignature(t *testing.T) {
	priv := newTestKey(t)
	v := NewVerifier(5 * time.Minute)

	tests := []struct {
		name string
		ts   time.Time
		ok   bool
	}{
		{"exactly at window edge", testNow.Add(-5 * time.Minute), true},
		{"one second past window", testNow.Add(-5*time.Minute - time.Second), false},
		{"an hour old", testNow.Add(-time.Hour), false},
		{"future within window", testNow.Add(4 * time.Minute), true},
		{"future beyond window", testNow.Add(6 * time.Minute), false},
		{"three centuries ahead", testNow.AddDate(300, 0, 0), false},
		{"a millennium ahead", testNow.AddDate(1000, 0, 0), false},
		{"three centuries old", testNow.AddDate(-300, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signAt(t, priv, "replay", tt.ts)
			ok, kind := v.Verify(req, testNow)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got ok=%v kind=%s", tt.ok, ok, kind)
			}
			if !ok && kind != Expired {
				t.Errorf("expected Expired, got %s", kind)
			}
		})
	}
}

func TestVerifyExtremeTimestampsExpire(t *testing.T) {
	priv := newTestKey(t)
	v := NewVerifier(5 * time.Minute)

	for _, ts := range []int64{math.MaxInt64, math.MinInt64, math.MaxInt64 / 2, math.MinInt64 / 2} {
		req, err := Sign(priv, model.Payload{Body: "replay", Timestamp: ts})
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		ok, kind := v.Verify(req, testNow)
		if ok || kind != Expired {
			t.Errorf("timestamp %d: expected Expired, got ok=%v kind=%q", ts, ok, kind)
		}
	}
}

func TestCanonicalBytesIgnoresExtraMapOrder(t *testing.T) {
	a := model.Payload{Body: "x", Timestamp: 1, Extra: map[string]string{"a": "1", "b": "2", "c": "3"}}
	b := model.Payload{Body: "x", Timestamp: 1, Extra: map[string]string{"c": "3", "b": "2", "a": "1"}}
	ba, err := CanonicalBytes(a)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := CanonicalBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(ba) != hex.EncodeToString(bb) {
		t.Error("equal payloads produced different canonical bytes")
	}
}

func TestCanonicalBytesNilAndEmptyExtraEqual(t *testing.T) {
	ba, _ := CanonicalBytes(model.Payload{Body: "x", Timestamp: 1})
	bb, _ := CanonicalBytes(model.Payload{Body: "x", Timestamp: 1, Extra: map[string]string{}})
	if hex.EncodeToString(ba) != hex.EncodeToString(bb) {
		t.Error("nil and empty extra maps should encode identically")
	}
}

func TestSignedPaymentIsCovered(t *testing.T) {
	priv := newTestKey(t)
	req, err := Sign(priv, model.Payload{
		Body:      "pay",
		Timestamp: testNow.Unix(),
		Payment:   &model.PaymentProof{Provider: "stripe", Reference: "ch_1", Amount: 500},
	})
	if err != nil {
		t.Fatal(err)
	}
	req.Payload.Payment = &model.PaymentProof{Provider: "stripe", Reference: "ch_1", Amount: 5000}

	if ok, _ := NewVerifier(0).Verify(req, testNow); ok {
		t.Error("changing the payment amount must invalidate the signature")
	}
}

func TestVerifierDefaultWindow(t *testing.T) {
	if NewVerifier(0).Window() != DefaultFreshnessWindow {
		t.Error("expected default freshness window")
	}
	if NewVerifier(time.Minute).Window() != time.Minute {
		t.Error("expected configured window")
	}
}
