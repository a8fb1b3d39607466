// Package identity derives the pseudonymous customer key that lets
// institutions correlate a customer without exchanging raw personal data.
//
// The key is a one-way digest over canonicalized attributes. Any two
// institutions that know the same person's attributes compute the same key
// independently; a party holding only the key cannot recover the attributes.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// CustomerKey is the pseudonymous cross-institution customer identifier.
// It is a derived value, never a stored entity.
type CustomerKey string

// String returns the hex form of the key.
func (k CustomerKey) String() string { return string(k) }

// IsZero reports whether the key is unset.
func (k CustomerKey) IsZero() bool { return k == "" }

// birthDateLayout is the canonical wire format for birth dates (ISO 8601 date).
const birthDateLayout = "2006-01-02"

// Resolve computes the pseudonymous customer key from personal attributes.
//
// Determinism is safety-critical: the normalization below is part of the
// cross-institution contract and must not change without coordinating a
// re-keying across all participants. Fields are trimmed, inner whitespace is
// collapsed, names are case-folded, the birth date is re-rendered in ISO
// form, and the nationality code is upper-cased before hashing.
func Resolve(lastName, givenName, birthDate, nationality string) (CustomerKey, error) {
	last := normalizeName(lastName)
	given := normalizeName(givenName)
	nat := strings.ToUpper(strings.TrimSpace(nationality))

	if last == "" {
		return "", dErrors.New(dErrors.CodeValidation, "lastName is required")
	}
	if given == "" {
		return "", dErrors.New(dErrors.CodeValidation, "givenName is required")
	}
	if nat == "" {
		return "", dErrors.New(dErrors.CodeValidation, "nationality is required")
	}

	date, err := normalizeBirthDate(birthDate)
	if err != nil {
		return "", err
	}

	input := strings.Join([]string{last, given, date, nat}, "|")
	sum := sha256.Sum256([]byte(input))
	return CustomerKey(hex.EncodeToString(sum[:])), nil
}

// ParseKey validates an externally supplied customer key (64 hex chars).
func ParseKey(s string) (CustomerKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != sha256.Size*2 {
		return "", dErrors.New(dErrors.CodeValidation, "invalid customer key format")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "invalid customer key format")
	}
	return CustomerKey(s), nil
}

// normalizeName trims, collapses inner whitespace, and case-folds a name
// component so spelling variants like "Müller " and "müller" agree.
func normalizeName(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return strings.Join(fields, " ")
}

// normalizeBirthDate accepts an ISO date (optionally with a time component)
// and re-renders the canonical date form.
func normalizeBirthDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "birthDate is required")
	}
	if t, err := time.Parse(birthDateLayout, s); err == nil {
		return t.Format(birthDateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(birthDateLayout), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "birthDate must be an ISO 8601 date (YYYY-MM-DD)")
}
