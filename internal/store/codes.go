package store

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codeLength   = 10
	codeAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"
)

// generateCode returns a random link code. Ambiguous characters (l, o, 0, 1)
// are left out so codes survive being read aloud.
func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func generateCodePair() (doctor, reveal string, err error) {
	doctor, err = generateCode()
	if err != nil {
		return "", "", err
	}
	for {
		reveal, err = generateCode()
		if err != nil {
			return "", "", err
		}
		if reveal != doctor {
			return doctor, reveal, nil
		}
	}
}
