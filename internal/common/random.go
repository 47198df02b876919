package common

import (
	"crypto/rand"
	"encoding/hex"
)

// codeAlphabet deliberately omits easily confused characters (0/O, 1/I/L)
// because verification codes are relayed by humans.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// MakeRandHexString generates a random hexadecimal string from size random
// bytes. The resulting string is twice as long as size (two hex characters
// per byte). It returns an error if the random number generator fails.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MakeRandCode generates a short human-relayable verification code of the
// given length using an unambiguous uppercase alphabet.
func MakeRandCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
