package goVerify

import (
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// SealedField is a contact value stored as ciphertext plus a deterministic
// lookup index. Equality searches go through Index; the plaintext is only
// recovered with Open.
type SealedField struct {
	Ciphertext string `json:"ciphertext,omitempty"`
	Index      string `json:"index,omitempty"`
}

// Seal encrypts plaintext with v. An empty plaintext yields an empty field.
func Seal(v Vault, plaintext string) (SealedField, error) {
	if plaintext == "" {
		return SealedField{}, nil
	}
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		return SealedField{}, err
	}
	return SealedField{Ciphertext: ct, Index: v.Index(plaintext)}, nil
}

// Open decrypts the field with v.
func (f SealedField) Open(v Vault) (string, error) {
	if f.Ciphertext == "" {
		return "", nil
	}
	return v.Decrypt(f.Ciphertext)
}

// Empty reports whether the field holds no value.
func (f SealedField) Empty() bool {
	return f.Ciphertext == ""
}

// Code is a single-use verification secret.
type Code struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         CodeType        `json:"code_type"`
	Category     Category        `json:"category"`
	Secret       string          `json:"code"`
	AttemptCount int             `json:"attempt_count"`
	ValidatedAt  *time.Time      `json:"validated_at,omitempty"`
	ExpiredAt    time.Time       `json:"expired_at"`
	Email        SealedField     `json:"email,omitempty"`
	PhoneNumber  SealedField     `json:"phone_number,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      uint64          `json:"version"`
}

// Validated reports whether the code was ever matched.
func (c *Code) Validated() bool {
	return c.ValidatedAt != nil
}

// Expired reports whether the code ran out of time without being validated.
func (c *Code) Expired(now time.Time) bool {
	return !c.Validated() && !c.ExpiredAt.After(now)
}

// OutOfAttempts reports whether every attempt was used.
func (c *Code) OutOfAttempts(maxAttempts int) bool {
	return c.AttemptCount >= maxAttempts
}

// Pending reports whether the code can still be verified by time and
// validation state. Attempt exhaustion is checked separately.
func (c *Code) Pending(now time.Time) bool {
	return !c.Validated() && c.ExpiredAt.After(now)
}

// Terminal reports whether no further attempt can change the code.
func (c *Code) Terminal(now time.Time, maxAttempts int) bool {
	return c.Validated() || c.Expired(now) || c.OutOfAttempts(maxAttempts)
}

// Attempt applies one verification attempt in memory. It reports whether this
// attempt validated the code and whether any field changed. Terminal codes
// are left untouched and always report false.
func (c *Code) Attempt(submitted string, now time.Time, maxAttempts int) (validated, mutated bool) {
	if c.Terminal(now, maxAttempts) {
		return false, false
	}

	c.AttemptCount++
	if c.Secret != "" && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(submitted)), []byte(c.Secret)) == 1 {
		at := now.UTC()
		c.ValidatedAt = &at
	}
	c.UpdatedAt = now.UTC()
	return c.Validated(), true
}

// reset prepares a pending code for a fresh delivery.
func (c *Code) reset(secret string, now time.Time, ttl time.Duration) {
	c.Secret = secret
	c.AttemptCount = 0
	c.ExpiredAt = now.Add(ttl).UTC()
	c.UpdatedAt = now.UTC()
}

// Phone is a user's phone claim. It is verified once its linked code is.
type Phone struct {
	UserID    string      `json:"user_id"`
	Number    SealedField `json:"number"`
	CodeID    string      `json:"code_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SanitizePhone keeps only the digits of number.
func SanitizePhone(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether number is a valid international phone number.
func ValidPhone(number string) bool {
	digits := SanitizePhone(number)
	if digits == "" {
		return false
	}
	parsed, err := phonenumbers.Parse("+"+digits, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(parsed)
}

// InternationalPhone returns number in E.164 form without the leading plus.
func InternationalPhone(number string) (string, error) {
	digits := SanitizePhone(number)
	if digits == "" {
		return "", ErrPhoneInvalid
	}
	parsed, err := phonenumbers.Parse("+"+digits, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", ErrPhoneInvalid
	}
	return SanitizePhone(phonenumbers.Format(parsed, phonenumbers.E164)), nil
}
