package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"golang.org/x/crypto/bcrypt"
	"math/big"
	"strings"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns a cryptographically random alphanumeric string.
func RandomString(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	var sb strings.Builder
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < length; i++ {
		index, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(passwordAlphabet[index.Int64()])
	}

	return sb.String(), nil
}

// HtpasswdEntry returns a user:hash line in the bcrypt format understood by htpasswd.
func HtpasswdEntry(user string, password string) (string, error) {
	if strings.Contains(user, ":") {
		return "", fmt.Errorf("the user %q must not contain a colon", user)
	}

	if password == "" {
		return "", errors.New("the password must not be empty")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return user + ":" + string(hashed), nil
}
