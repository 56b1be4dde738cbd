package session

import "github.com/google/uuid"

// GenerateSessionID returns a fresh random UUID session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}
