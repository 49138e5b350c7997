package plugin

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// Manifest bundles plugin provenance: the plugin identity plus a signature
// produced by a trusted signer. The signature covers the blake3 digest of
// the canonical signing payload (name, version, signer id).
type Manifest struct {
	// Name is the plugin name the manifest attests.
	Name string `json:"name"`

	// Version is the attested plugin version.
	Version string `json:"version"`

	// SignerID identifies the key that produced Signature.
	SignerID string `json:"signer_id"`

	// Signature is the base64-encoded ed25519 signature.
	Signature string `json:"signature"`
}

// Verifier checks a manifest signature. The registry calls it on every
// registration that carries a manifest while verification is enabled.
type Verifier interface {
	VerifyPluginSignature(m *Manifest, signature, signerID string) (bool, error)
}

// signingPayload returns the canonical bytes the signature covers.
// json.Marshal of a fixed struct keeps field order stable.
func signingPayload(m *Manifest) ([]byte, error) {
	payload := struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		SignerID string `json:"signer_id"`
	}{m.Name, m.Version, m.SignerID}
	return json.Marshal(payload)
}

// ManifestDigest returns the blake3 digest of the manifest signing payload.
func ManifestDigest(m *Manifest) ([]byte, error) {
	payload, err := signingPayload(m)
	if err != nil {
		return nil, fmt.Errorf("marshal signing payload: %w", err)
	}
	sum := blake3.Sum256(payload)
	return sum[:], nil
}

// SignManifest fills m.Signature using an ed25519 private key.
// Intended for build tooling and tests.
func SignManifest(priv ed25519.PrivateKey, m *Manifest) error {
	digest, err := ManifestDigest(m)
	if err != nil {
		return err
	}
	m.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest))
	return nil
}

// Ed25519Verifier verifies manifest signatures against a set of trusted
// public keys keyed by signer id.
type Ed25519Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewEd25519Verifier creates a verifier from an in-memory key set.
func NewEd25519Verifier(keys map[string]ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{keys: keys}
}

// NewEd25519VerifierFromFile loads trusted keys from a JSON file mapping
// signer id to base64-encoded ed25519 public key.
func NewEd25519VerifierFromFile(path string) (*Ed25519Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trusted keys: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse trusted keys %s: %w", path, err)
	}

	keys := make(map[string]ed25519.PublicKey, len(raw))
	for id, encoded := range raw {
		keyBytes, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode key for signer %q: %w", id, err)
		}
		if len(keyBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("key for signer %q: expected %d bytes, got %d", id, ed25519.PublicKeySize, len(keyBytes))
		}
		keys[id] = ed25519.PublicKey(keyBytes)
	}
	return &Ed25519Verifier{keys: keys}, nil
}

// VerifyPluginSignature checks the manifest signature against the trusted
// key for signerID. A missing key, malformed signature, or digest mismatch
// all report verified=false with the reason.
func (v *Ed25519Verifier) VerifyPluginSignature(m *Manifest, signature, signerID string) (bool, error) {
	pub, ok := v.keys[signerID]
	if !ok {
		return false, fmt.Errorf("unknown signer %q", signerID)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	digest, err := ManifestDigest(m)
	if err != nil {
		return false, err
	}

	if !ed25519.Verify(pub, digest, sig) {
		return false, fmt.Errorf("signature mismatch")
	}
	return true, nil
}
