package signature

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/ppiankov/trustgate/internal/model"
)

// Sign produces a SignedRequest for payload under priv. The From identity is
// derived from priv's public half.
func Sign(priv ed25519.PrivateKey, payload model.Payload) (model.SignedRequest, error) {
	msg, err := CanonicalBytes(payload)
	if err != nil {
		return model.SignedRequest{}, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return model.SignedRequest{
		Payload:   payload,
		From:      IdentityFromPublicKey(pub),
		Signature: hex.EncodeToString(ed25519.Sign(priv, msg)),
	}, nil
}
