// Package hasher backs the API token auth: tokens are generated once, stored
// only as bcrypt hashes, and checked per request.
package hasher

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

func HashToken(token []byte) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(token, 10)
	return string(bytes), err
}

func TokenCorrect(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// GenerateToken returns a URL-safe random token of length random bytes.
func GenerateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
