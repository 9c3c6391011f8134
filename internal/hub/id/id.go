package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 24-character nanoid using an alphanumeric
// alphabet, used for thread and message identifiers.
func Generate() string {
	return generate(24)
}

// GenerateSession returns a 32-character nanoid (~190 bits of entropy)
// used for session identifiers, which double as a bearer capability.
func GenerateSession() string {
	return generate(32)
}

func generate(n int) string {
	id, err := gonanoid.Generate(alphabet, n)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}
