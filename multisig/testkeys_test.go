package multisig

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

type testKeyPair struct {
	public  string
	private string
}

func encodePEM(t *testing.T, typ string, der []byte) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}))
}

func newEd25519Pair(t *testing.T) testKeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey error: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey error: %v", err)
	}
	return testKeyPair{
		public:  encodePEM(t, "PUBLIC KEY", pubDER),
		private: encodePEM(t, "PRIVATE KEY", privDER),
	}
}

func newECPair(t *testing.T) testKeyPair {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey error: %v", err)
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey error: %v", err)
	}
	return testKeyPair{
		public:  encodePEM(t, "PUBLIC KEY", pubDER),
		private: encodePEM(t, "EC PRIVATE KEY", privDER),
	}
}

func encodeForTest(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
