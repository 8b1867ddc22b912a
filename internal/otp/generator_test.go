package otp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLength(t *testing.T) {
	g := NewGenerator(nil)

	for _, length := range []int{1, 6, 10, 24} {
		code, err := g.Generate(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
	}
}

func TestGenerateRejectsNonPositiveLength(t *testing.T) {
	g := NewGenerator(nil)

	_, err := g.Generate(0)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = g.Generate(-3)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestGenerateUsesCharacterAlphabet(t *testing.T) {
	g := NewGenerator(nil)

	for i := 0; i < 200; i++ {
		code, err := g.Generate(10)
		require.NoError(t, err)
		for _, r := range code {
			assert.Contains(t, AlphabetCharacter, string(r),
				"code %q contains %q outside the alphabet", code, string(r))
		}
	}
}

func TestGenerateExcludesConfusableCharacters(t *testing.T) {
	g := NewGenerator(nil)

	for i := 0; i < 200; i++ {
		code, err := g.Generate(8)
		require.NoError(t, err)
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")
	}
}

func TestGenerateDigitAlphabet(t *testing.T) {
	g := NewGenerator(nil).WithAlphabet(AlphabetDigit)

	for i := 0; i < 100; i++ {
		code, err := g.Generate(10)
		require.NoError(t, err)
		require.Len(t, code, 10)
		for _, r := range code {
			assert.Contains(t, AlphabetDigit, string(r))
		}
	}
}

func TestGenerateAvoidsDenylist(t *testing.T) {
	g := NewGenerator([]string{"XYZ"})

	for i := 0; i < 500; i++ {
		code, err := g.Generate(6)
		require.NoError(t, err)
		for _, word := range append([]string{"XYZ"}, defaultDenylist...) {
			assert.NotContains(t, code, word)
		}
	}
}

func TestContainsProfanityFoldsDigits(t *testing.T) {
	g := NewGenerator([]string{"TEST"})

	// 7 folds to T, 3 to E, 5 to S: a code spelling the word through
	// digit lookalikes is still a hit.
	assert.True(t, g.containsProfanity("73S7"))
	assert.True(t, g.containsProfanity("TEST"))
	assert.False(t, g.containsProfanity("2468"))
}

func TestDenylistNormalization(t *testing.T) {
	g := NewGenerator([]string{"  bad  ", ""})

	found := false
	for _, w := range g.denylist {
		if w == "BAD" {
			found = true
		}
		assert.Equal(t, strings.ToUpper(w), w)
		assert.NotEmpty(t, w)
	}
	assert.True(t, found)
}
