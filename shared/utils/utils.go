package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const accountNumberPrefix = "01"

// GenerateAccountNumber returns a random 10-digit account number starting with 01.
func GenerateAccountNumber() (string, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate account number: %w", err)
	}
	return fmt.Sprintf("%s%08d", accountNumberPrefix, num.Int64()), nil
}

// ValidateAccountNumber validates the account number format
func ValidateAccountNumber(accountNumber string) bool {
	if len(accountNumber) != 10 || !strings.HasPrefix(accountNumber, accountNumberPrefix) {
		return false
	}
	for _, r := range accountNumber {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
