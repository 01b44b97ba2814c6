package trustgate

import (
	"crypto/ed25519"
	"time"

	"github.com/ppiankov/trustgate/internal/signature"
)

// Signer signs requests for a sender.
type Signer struct {
	priv ed25519.PrivateKey
	id   Identity
	now  func() time.Time
}

// NewSigner returns a Signer for priv.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		id:   signature.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey)),
		now:  time.Now,
	}
}

// LoadSigner reads a keypair written by 'trustgate keygen'.
func LoadSigner(dir string) (*Signer, error) {
	_, priv, err := signature.LoadKeypair(dir)
	if err != nil {
		return nil, err
	}
	return NewSigner(priv), nil
}

// GenerateSigner creates a Signer with a fresh keypair.
func GenerateSigner() (*Signer, error) {
	_, priv, err := signature.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return NewSigner(priv), nil
}

// Identity returns the sender identity requests are signed as.
func (s *Signer) Identity() Identity { return s.id }

// SignOption adds optional payload fields.
type SignOption func(*Payload)

// SignTo sets the target identity.
func SignTo(id string) SignOption {
	return func(p *Payload) { p.To = id }
}

// SignInvite attaches an invite code.
func SignInvite(code string) SignOption {
	return func(p *Payload) { p.InviteCode = code }
}

// SignPayment attaches a payment proof.
func SignPayment(proof PaymentProof) SignOption {
	return func(p *Payload) { p.Payment = &proof }
}

// Sign builds a payload for body stamped with the current time and signs it.
func (s *Signer) Sign(body string, opts ...SignOption) (Request, error) {
	p := Payload{Body: body, Timestamp: s.now().Unix()}
	for _, o := range opts {
		o(&p)
	}
	return signature.Sign(s.priv, p)
}
