// Package internal holds token identifier and secret plumbing shared by the
// engine and its stores. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenID is the 128-bit identifier half of an opaque token. The identifier
// locates the server-side record; the secret half proves possession.
type TokenID [16]byte

const (
	// SecretSize is the entropy of the secret half: 256 bits.
	SecretSize = 32

	opaqueTokenRawSize = 16 + SecretSize
	stateValueRawSize  = 24
)

var errTokenShape = errors.New("malformed opaque token")

// NewTokenID returns a fresh random identifier.
func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// ParseTokenID decodes the base64url form produced by String.
func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, errTokenShape
	}
	if len(raw) != len(id) {
		return id, errTokenShape
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns 256 bits of token secret.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the only form in which secrets are stored or compared.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeOpaqueToken packs identifier and secret into the single base64url
// string handed to clients. Used for refresh tokens and one-time tokens.
func EncodeOpaqueToken(id string, secret [SecretSize]byte) (string, error) {
	tid, err := ParseTokenID(id)
	if err != nil {
		return "", err
	}

	var raw [opaqueTokenRawSize]byte
	copy(raw[:len(tid)], tid[:])
	copy(raw[len(tid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeOpaqueToken splits a client token back into identifier and secret.
func DecodeOpaqueToken(token string) (string, [SecretSize]byte, error) {
	var secret [SecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, errTokenShape
	}
	if len(raw) != opaqueTokenRawSize {
		return "", secret, errTokenShape
	}

	var tid TokenID
	copy(tid[:], raw[:len(tid)])
	copy(secret[:], raw[len(tid):])

	return tid.String(), secret, nil
}

// NewStateValue returns a fresh OAuth CSRF state value: 192 bits, base64url.
func NewStateValue() (string, error) {
	var raw [stateValueRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
