package utils

import (
	"github.com/google/uuid"
)

// NewRunID returns a random (v4) identifier for one processed block.
func NewRunID() string {
	return uuid.NewString()
}

// IsRunID reports whether s parses as a UUID.
func IsRunID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
