// Copyright 2025 Wisdom Hub Project
//
// Canonical Codec - deterministic JSON serialization and signature contract
// The signed bytes of an entity are its canonical serialization with the
// signature field replaced by the empty string.

package canonical

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidSignature is returned when Ed25519 verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedEntity is returned when an entity cannot be canonicalized.
	ErrMalformedEntity = errors.New("malformed entity")
)

// CanonicalizeJSON takes arbitrary JSON bytes and returns a canonical
// encoding: lexicographic key order, no insignificant whitespace, numbers in
// their shortest form.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntity, err)
	}
	return json.Marshal(canonicalizeValue(v))
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// MarshalCanonical performs canonical JSON encoding of any value.
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntity, err)
	}
	return CanonicalizeJSON(raw)
}

// SigningBytes returns the canonical serialization of an entity with its
// signature field cleared. This is the exact byte sequence that signers sign
// and verifiers verify.
func SigningBytes(entity interface{}) ([]byte, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntity, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: entity is not a JSON object: %v", ErrMalformedEntity, err)
	}
	m["signature"] = ""
	return json.Marshal(canonicalizeValue(m).(map[string]interface{}))
}

// Digest returns SHA-256 of the canonical bytes.
func Digest(canonical []byte) [32]byte {
	return sha256.Sum256(canonical)
}

// DigestHex returns hex-encoded SHA-256 of the canonical bytes.
func DigestHex(canonical []byte) string {
	d := Digest(canonical)
	return hex.EncodeToString(d[:])
}

// ====== Ed25519 Key Handling ======

// ParsePublicKey decodes a base64 Ed25519 public key and validates its size.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d",
			ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// EncodePublicKey returns the base64 form stored on agent records.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// KeyFingerprint returns a short hex fingerprint of a public key, used when
// logging signature failures.
func KeyFingerprint(pub ed25519.PublicKey) string {
	d := sha256.Sum256(pub)
	return hex.EncodeToString(d[:8])
}

// ====== Sign / Verify ======

// Sign produces the base64 detached signature over an entity's canonical
// bytes. The convention is Ed25519 over the canonical bytes directly; the
// SHA-256 digest is exposed separately for identifiers, not signing input.
func Sign(priv ed25519.PrivateKey, entity interface{}) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size: expected %d, got %d",
			ed25519.PrivateKeySize, len(priv))
	}
	canon, err := SigningBytes(entity)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, canon)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks an entity's detached signature under the given public key.
// Returns ErrInvalidSignature when verification fails.
func Verify(entity interface{}, signature string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: expected %d, got %d",
			ed25519.PublicKeySize, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid signature size: expected %d, got %d",
			ErrInvalidSignature, ed25519.SignatureSize, len(sig))
	}
	canon, err := SigningBytes(entity)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, canon, sig) {
		return ErrInvalidSignature
	}
	return nil
}
