package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Device keys are opaque bearer credentials: "bcd_" plus 32 random bytes
// in unpadded base64url. Only the SHA-256 of the full key is stored; the
// plaintext is shown once at registration or rotation. The prefix kept
// alongside the hash lets operators match a leaked key to a device
// without storing anything recoverable.
const (
	deviceKeyScheme    = "bcd_"
	deviceKeyRandBytes = 32
	DeviceKeyPrefixLen = 12
)

// GenerateDeviceKey returns the plaintext key, its storage hash and its
// display prefix.
func GenerateDeviceKey() (plain, hash, prefix string, err error) {
	buf := make([]byte, deviceKeyRandBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate device key: %w", err)
	}
	plain = deviceKeyScheme + base64.RawURLEncoding.EncodeToString(buf)
	return plain, HashDeviceKey(plain), plain[:DeviceKeyPrefixLen], nil
}

// HashDeviceKey returns the hex SHA-256 of a plaintext key.
func HashDeviceKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// ValidDeviceKeyFormat rejects obviously malformed keys before any
// storage lookup.
func ValidDeviceKeyFormat(plain string) bool {
	if !strings.HasPrefix(plain, deviceKeyScheme) {
		return false
	}
	rest := plain[len(deviceKeyScheme):]
	if len(rest) != base64.RawURLEncoding.EncodedLen(deviceKeyRandBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(rest)
	return err == nil
}

// MatchDeviceKey compares a plaintext key against a stored hash in
// constant time.
func MatchDeviceKey(plain, storedHash string) bool {
	h := HashDeviceKey(plain)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
