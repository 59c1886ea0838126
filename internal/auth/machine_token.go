package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const machineTokenPrefix = "pb_"

// GenerateMachineToken creates a new machine token and its storage hash.
// Format: pb_<uuid>_<random_secret>
func GenerateMachineToken() (token, hash string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token = fmt.Sprintf("%s%s_%s", machineTokenPrefix, uuid.NewString(), hex.EncodeToString(secret))
	return token, HashToken(token), nil
}

// HashToken is the form a machine token is configured in.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if token has correct format
func ValidateTokenFormat(token string) bool {
	if len(token) != len(machineTokenPrefix)+36+1+64 || !strings.HasPrefix(token, machineTokenPrefix) {
		return false
	}
	_, err := uuid.Parse(token[len(machineTokenPrefix) : len(machineTokenPrefix)+36])
	return err == nil
}
