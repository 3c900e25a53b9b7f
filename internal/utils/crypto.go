// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

// GenerateGenerationID returns gen_<unix-ms>_<random>.
func GenerateGenerationID(now time.Time) (string, error) {
	suffix, err := GenerateRandomString(9)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gen_%d_%s", now.UnixMilli(), suffix), nil
}
