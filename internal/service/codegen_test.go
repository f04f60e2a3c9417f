package service

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base62Code = regexp.MustCompile(`^[0-9A-Za-z]+$`)

func TestNewCodeGeneratorLength(t *testing.T) {
	for _, length := range []int{MinCodeLength, DefaultCodeLength, MaxCodeLength} {
		gen, err := NewCodeGenerator(length)
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			code, err := gen.NewCode()
			require.NoError(t, err)
			assert.Len(t, code, length)
			assert.Regexp(t, base62Code, code)
		}
	}
}

func TestNewCodeGeneratorRejectsLength(t *testing.T) {
	for _, length := range []int{0, 5, 9, 64} {
		_, err := NewCodeGenerator(length)
		assert.Error(t, err, "length %d", length)
	}
}

func TestNewCodeGeneratorSpread(t *testing.T) {
	gen, err := NewCodeGenerator(DefaultCodeLength)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code, err := gen.NewCode()
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	// 62^7 codes; a repeat within 1000 draws would point at a broken source.
	assert.Len(t, seen, 1000)
}
