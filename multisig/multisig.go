package multisig

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidEnvelope is returned for payloads that are not a multisig envelope.
	ErrInvalidEnvelope = errors.New("invalid multisig envelope")
	// ErrSignerNotVerified is returned by VerifySigner when the required signer did not verify.
	ErrSignerNotVerified = errors.New("signer not verified")
	// ErrExpired is returned when the payload exp claim is in the past.
	ErrExpired = errors.New("multisig payload expired")
)

// Envelope is the JWS JSON general serialization.
type Envelope struct {
	Payload    string      `json:"payload"`
	Signatures []Signature `json:"signatures"`
}

// Signature is one signer's entry in an Envelope.
type Signature struct {
	Protected string            `json:"protected"`
	Header    map[string]string `json:"header"`
	Signature string            `json:"signature"`
}

// Result lists the signers whose signatures verified and those that did not.
type Result struct {
	Payload    map[string]any
	Verified   []string
	Unverified []string
}

// Has reports whether signer is among the verified signers.
func (r *Result) Has(signer string) bool {
	for _, s := range r.Verified {
		if s == signer {
			return true
		}
	}
	return false
}

// Verifier checks envelopes against a parsed keychain. It is safe for
// concurrent use.
type Verifier struct {
	keys map[string]verifyKey
	now  func() time.Time
}

func NewVerifier(kc Keychain) (*Verifier, error) {
	keys, err := kc.parse()
	if err != nil {
		return nil, err
	}
	return &Verifier{keys: keys, now: time.Now}, nil
}

// Verify checks every signature in raw. Malformed envelopes and expired
// payloads are errors; bad signatures are not, they are only reported as
// unverified.
func (v *Verifier) Verify(raw []byte) (*Result, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Payload == "" || len(env.Signatures) == 0 {
		return nil, ErrInvalidEnvelope
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", ErrInvalidEnvelope)
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload json", ErrInvalidEnvelope)
	}

	res := &Result{Payload: payload}
	seen := make(map[string]bool, len(env.Signatures))
	for _, sig := range env.Signatures {
		kid := sig.Header["kid"]
		if kid == "" || seen[kid] {
			continue
		}
		seen[kid] = true
		if v.check(env.Payload, sig, kid) {
			res.Verified = append(res.Verified, kid)
		} else {
			res.Unverified = append(res.Unverified, kid)
		}
	}
	sort.Strings(res.Verified)
	sort.Strings(res.Unverified)

	if len(res.Verified) > 0 {
		if exp, ok := payload["exp"].(float64); ok && int64(exp) < v.now().Unix() {
			return nil, ErrExpired
		}
	}
	return res, nil
}

// VerifySigner is Verify followed by a check that signer verified.
func (v *Verifier) VerifySigner(raw []byte, signer string) (*Result, error) {
	res, err := v.Verify(raw)
	if err != nil {
		return nil, err
	}
	if !res.Has(signer) {
		return res, fmt.Errorf("%w: %s", ErrSignerNotVerified, signer)
	}
	return res, nil
}

func (v *Verifier) check(payload string, sig Signature, kid string) bool {
	key, ok := v.keys[kid]
	if !ok {
		return false
	}

	header, err := base64.RawURLEncoding.DecodeString(sig.Protected)
	if err != nil {
		return false
	}
	var protected struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(header, &protected); err != nil {
		return false
	}
	if _, allowed := key.algorithms[protected.Alg]; !allowed {
		return false
	}
	method := jwt.GetSigningMethod(protected.Alg)
	if method == nil {
		return false
	}

	signature, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return false
	}
	return method.Verify(sig.Protected+"."+payload, signature, key.key) == nil
}

// Signer produces envelope signatures for one signer id.
type Signer struct {
	id     string
	method jwt.SigningMethod
	key    crypto.PrivateKey
}

func NewSigner(id string, pk PrivateKey) (*Signer, error) {
	if id == "" {
		return nil, errors.New("signer id required")
	}
	method := jwt.GetSigningMethod(pk.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown algorithm %q", pk.Algorithm)
	}
	key, err := parsePrivateKey(pk.Value)
	if err != nil {
		return nil, err
	}
	return &Signer{id: id, method: method, key: key}, nil
}

// ID returns the signer id written to the kid header.
func (s *Signer) ID() string {
	return s.id
}

// Sign marshals payload and signs it with every signer.
func Sign(payload any, signers ...*Signer) ([]byte, error) {
	if len(signers) == 0 {
		return nil, errors.New("at least one signer required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	env := Envelope{Payload: base64.RawURLEncoding.EncodeToString(body)}
	for _, s := range signers {
		header, err := json.Marshal(map[string]string{"alg": s.method.Alg()})
		if err != nil {
			return nil, err
		}
		protected := base64.RawURLEncoding.EncodeToString(header)
		sig, err := s.method.Sign(protected+"."+env.Payload, s.key)
		if err != nil {
			return nil, fmt.Errorf("sign as %s: %w", s.id, err)
		}
		env.Signatures = append(env.Signatures, Signature{
			Protected: protected,
			Header:    map[string]string{"kid": s.id},
			Signature: base64.RawURLEncoding.EncodeToString(sig),
		})
	}
	return json.Marshal(env)
}
