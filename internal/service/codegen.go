package service

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	MinCodeLength     = 6
	MaxCodeLength     = 8
	DefaultCodeLength = 7
)

// CodeGenerator produces candidate short codes. Candidates may collide; the
// Shortener checks them against the store.
type CodeGenerator interface {
	NewCode() (string, error)
}

type nanoidGenerator struct {
	next func() string
}

// NewCodeGenerator returns a base62 generator of fixed length, backed by a
// crypto/rand nanoid source.
func NewCodeGenerator(length int) (CodeGenerator, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, fmt.Errorf("code length %d out of range [%d, %d]", length, MinCodeLength, MaxCodeLength)
	}
	gen, err := nanoid.CustomASCII(base62Alphabet, length)
	if err != nil {
		return nil, fmt.Errorf("failed to create code generator: %w", err)
	}
	return &nanoidGenerator{next: gen}, nil
}

func (g *nanoidGenerator) NewCode() (string, error) {
	return g.next(), nil
}
