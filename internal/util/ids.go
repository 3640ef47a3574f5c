package util

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a random identifier for graph rows and sources.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns a short url-safe token used for build ids and lock owners.
func NewToken(prefix string) string {
	id, err := gonanoid.Generate(tokenAlphabet, 16)
	if err != nil {
		id = uuid.NewString()
	}
	return prefix + id
}
