package manifest

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"oneiric/internal/api"
	"oneiric/pkg/logging"

	"sigs.k8s.io/yaml"
)

// AlgorithmEd25519 is the only supported signature algorithm.
const AlgorithmEd25519 = "ed25519"

// CanonicalBytes returns the byte sequence signatures cover: the manifest
// with its signature and signature_algorithm fields removed, serialized as
// sorted-key compact JSON. Marshaling through a generic map gives the
// sorted-key property; json.Marshal of maps is key-ordered.
func CanonicalBytes(m *Manifest) ([]byte, error) {
	structBytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(structBytes, &generic); err != nil {
		return nil, err
	}
	delete(generic, "signature")
	delete(generic, "signature_algorithm")
	return json.Marshal(generic)
}

// Sign signs the manifest's canonical form and attaches the base64
// signature. Used by manifest publishers and tests.
func Sign(m *Manifest, priv ed25519.PrivateKey) error {
	payload, err := CanonicalBytes(m)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, payload)
	m.Signature = base64.StdEncoding.EncodeToString(sig)
	m.SignatureAlgorithm = AlgorithmEd25519
	return nil
}

// Verify checks the manifest signature against the trusted key set.
// Verification succeeds when any trusted key verifies. An unsigned
// manifest passes with a warning unless requireSignature is set.
func Verify(m *Manifest, trusted []ed25519.PublicKey, requireSignature bool) error {
	if m.Signature == "" {
		if requireSignature {
			return api.NewRemoteSyncError(api.RemoteSyncSignature, "", "manifest is unsigned and signatures are required", nil)
		}
		logging.Warn("ManifestVerify", "Accepting unsigned manifest from source %q", m.Source)
		return nil
	}
	if m.SignatureAlgorithm != "" && m.SignatureAlgorithm != AlgorithmEd25519 {
		return api.NewRemoteSyncError(api.RemoteSyncSignature, "",
			"unsupported signature algorithm "+m.SignatureAlgorithm, nil)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return api.NewRemoteSyncError(api.RemoteSyncSignature, "", "signature is not valid base64", err)
	}
	payload, err := CanonicalBytes(m)
	if err != nil {
		return api.NewRemoteSyncError(api.RemoteSyncSignature, "", "could not canonicalize manifest", err)
	}
	for _, key := range trusted {
		if ed25519.Verify(key, payload, sig) {
			return nil
		}
	}
	return api.NewRemoteSyncError(api.RemoteSyncSignature, "", "no trusted key verifies the manifest signature", nil)
}

// ParseTrustedKeys decodes base64 Ed25519 public keys. Malformed or
// wrong-size keys are skipped with a warning so one bad key does not take
// down the trust set.
func ParseTrustedKeys(encoded []string) []ed25519.PublicKey {
	var keys []ed25519.PublicKey
	for _, raw := range encoded {
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			logging.Warn("ManifestVerify", "Skipping malformed trusted key (bad base64): %v", err)
			continue
		}
		if len(data) != ed25519.PublicKeySize {
			logging.Warn("ManifestVerify", "Skipping trusted key with wrong length %d (want %d)", len(data), ed25519.PublicKeySize)
			continue
		}
		keys = append(keys, ed25519.PublicKey(data))
	}
	return keys
}

// Encode serializes a manifest to YAML. Used by publishers and tests;
// consumers parse either YAML or JSON.
func Encode(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}
