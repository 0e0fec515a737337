// Package keys provides the signing material used by the ticket signer and
// the attestation pipeline. Keys are loaded once at startup; a missing or
// malformed key makes the dependent operation fail closed rather than run
// unsigned.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Provider holds the Ed25519 keypair for ticket/manifest signing and the
// shared HMAC secret for result signing. The private key may be absent on
// executor-side deployments, which only verify.
type Provider struct {
	private    ed25519.PrivateKey
	public     ed25519.PublicKey
	hmacSecret string
}

// NewProvider builds a Provider from base64-encoded key material. privateB64
// may be empty for verify-only deployments; publicB64 is always required.
func NewProvider(privateB64, publicB64, hmacSecret string) (*Provider, error) {
	if publicB64 == "" {
		return nil, fmt.Errorf("keys: public key is required")
	}
	pub, err := base64.StdEncoding.DecodeString(publicB64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keys: public key size %d, want %d", len(pub), ed25519.PublicKeySize)
	}

	p := &Provider{public: ed25519.PublicKey(pub), hmacSecret: hmacSecret}

	if privateB64 != "" {
		priv, err := base64.StdEncoding.DecodeString(privateB64)
		if err != nil {
			return nil, fmt.Errorf("keys: decode private key: %w", err)
		}
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("keys: private key size %d, want %d", len(priv), ed25519.PrivateKeySize)
		}
		p.private = ed25519.PrivateKey(priv)
	}
	return p, nil
}

// NewEphemeralProvider generates a fresh keypair. Used by tests and by the
// enqueue bootstrap when no key material is configured.
func NewEphemeralProvider(hmacSecret string) (*Provider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &Provider{private: priv, public: pub, hmacSecret: hmacSecret}, nil
}

// Sign signs data with the Ed25519 private key.
func (p *Provider) Sign(data []byte) ([]byte, error) {
	if p.private == nil {
		return nil, fmt.Errorf("keys: no private key configured")
	}
	return ed25519.Sign(p.private, data), nil
}

// Public returns the Ed25519 public key.
func (p *Provider) Public() ed25519.PublicKey {
	return p.public
}

// HMACSecret returns the shared result-signing secret. Empty means results
// cannot be signed or verified.
func (p *Provider) HMACSecret() string {
	return p.hmacSecret
}

// Fingerprint identifies the public key in manifests: the first 16 hex
// characters of SHA-256 over the raw key bytes.
func (p *Provider) Fingerprint() string {
	return Fingerprint(p.public)
}

// Fingerprint computes the manifest key fingerprint for any public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:16]
}
