package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CanonicalJSON serializes v deterministically: object keys sorted at
// every depth, nil/omitted fields dropped. Two structurally equal
// values always produce identical bytes, which is what makes the HMAC
// stable across field insertion order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	// Round-trip through interface{} so every object becomes a
	// map[string]interface{}, which encoding/json marshals with
	// sorted keys.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// PolicyHash is the SHA-256 hex digest of the canonical JSON form of
// the risk policy. Identical policies hash identically regardless of
// how the config was assembled.
func PolicyHash(policy interface{}) (string, error) {
	canonical, err := CanonicalJSON(policy)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SignedEnvelope carries a payload plus its detached signature. The
// signature covers `timestamp.nonce.payload` and is never part of the
// signed region itself.
type SignedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"`
}

// Signer produces and verifies HMAC-SHA256 envelope signatures with a
// shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer for the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

func (s *Signer) mac(timestamp int64, nonce string, payload []byte) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%d.%s.", timestamp, nonce)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignEnvelope canonicalizes v and wraps it with a fresh nonce,
// millisecond timestamp, and signature.
func (s *Signer) SignEnvelope(v interface{}) (SignedEnvelope, error) {
	payload, err := CanonicalJSON(v)
	if err != nil {
		return SignedEnvelope{}, err
	}
	ts := s.now().UnixMilli()
	nonce := uuid.NewString()
	return SignedEnvelope{
		Payload:   payload,
		Timestamp: ts,
		Nonce:     nonce,
		Signature: s.mac(ts, nonce, payload),
	}, nil
}

// Verify reports whether the envelope's signature matches its payload.
func (s *Signer) Verify(env SignedEnvelope) bool {
	expected := s.mac(env.Timestamp, env.Nonce, env.Payload)
	return hmac.Equal([]byte(expected), []byte(env.Signature))
}
