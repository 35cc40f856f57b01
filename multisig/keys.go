package multisig

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Key is a signer's public key as configured in a keychain.
type Key struct {
	Algorithms []string `yaml:"algorithms" json:"algorithms"`
	Value      string   `yaml:"value" json:"value"`
}

// Keychain maps signer ids to their public keys.
type Keychain map[string]Key

// PrivateKey is a signer's private key and the algorithm it signs with.
type PrivateKey struct {
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	Value     string `yaml:"value" json:"value"`
}

type verifyKey struct {
	algorithms map[string]struct{}
	key        crypto.PublicKey
}

// decodePEM accepts base64url (padded or not) PEM and raw PEM text.
func decodePEM(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "-----BEGIN") {
		return []byte(value), nil
	}
	if raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "=")); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

func parsePublicKey(value string) (crypto.PublicKey, error) {
	pemBytes, err := decodePEM(value)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if k, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported public key")
}

func parsePrivateKey(value string) (crypto.PrivateKey, error) {
	pemBytes, err := decodePEM(value)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if k, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPrivateKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseEdPrivateKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported private key")
}

func (kc Keychain) parse() (map[string]verifyKey, error) {
	out := make(map[string]verifyKey, len(kc))
	for signer, k := range kc {
		if strings.TrimSpace(signer) == "" {
			return nil, errors.New("keychain contains empty signer")
		}
		if len(k.Algorithms) == 0 {
			return nil, fmt.Errorf("signer %q has no algorithms", signer)
		}
		pub, err := parsePublicKey(k.Value)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", signer, err)
		}
		algs := make(map[string]struct{}, len(k.Algorithms))
		for _, alg := range k.Algorithms {
			if jwt.GetSigningMethod(alg) == nil {
				return nil, fmt.Errorf("signer %q: unknown algorithm %q", signer, alg)
			}
			algs[alg] = struct{}{}
		}
		out[signer] = verifyKey{algorithms: algs, key: pub}
	}
	return out, nil
}
