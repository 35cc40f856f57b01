package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() Argon2Params {
	return Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2HashAndVerify(t *testing.T) {
	hash, err := Argon2Hash("P@ssw0rd-Ascii", fastArgon2())
	if err != nil {
		t.Fatalf("Argon2Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	v := NewVerifier()
	ok, err := v.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}

	ok, err = v.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestArgon2RejectsWeakParams(t *testing.T) {
	p := fastArgon2()
	p.SaltLength = 4
	if _, err := Argon2Hash("password", p); err == nil {
		t.Fatal("expected weak params to be rejected")
	}
}

func TestVerifyBcrypt(t *testing.T) {
	hash, err := BcryptHash("legacy-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("BcryptHash error: %v", err)
	}

	v := NewVerifier()
	ok, err := v.Verify("legacy-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, got ok=%v err=%v", ok, err)
	}
	ok, err = v.Verify("other", hash)
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyMalformedHashes(t *testing.T) {
	v := NewVerifier()
	cases := map[string]error{
		"plain":                   ErrUnsupportedHash,
		"$argon2id$v=19$m=1$salt": ErrMalformedHash,
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA": ErrMalformedHash,
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA":                    ErrMalformedHash,
	}
	for hash, want := range cases {
		if _, err := v.Verify("pw", hash); !errors.Is(err, want) {
			t.Fatalf("Verify(%q) error = %v, want %v", hash, err, want)
		}
	}
}
