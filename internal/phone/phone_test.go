package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUSNumber(t *testing.T) {
	parsed, err := Parse("(202) 555-0123")
	require.NoError(t, err)

	assert.Equal(t, "+12025550123", parsed.E164)
	assert.Equal(t, "US", parsed.CountryCode)
	assert.Equal(t, "202", parsed.AreaCode)
}

func TestParseE164Passthrough(t *testing.T) {
	parsed, err := Parse("+12025550123")
	require.NoError(t, err)
	assert.Equal(t, "+12025550123", parsed.E164)
}

func TestParseInternationalNumber(t *testing.T) {
	parsed, err := Parse("+442071838750")
	require.NoError(t, err)

	assert.Equal(t, "+442071838750", parsed.E164)
	assert.Equal(t, "GB", parsed.CountryCode)
}

func TestParseGarbage(t *testing.T) {
	for _, raw := range []string{"", "not a phone", "++--"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrParse, "input %q", raw)
	}
}

func TestParseInvalidButNumeric(t *testing.T) {
	// Parses syntactically but is not a real number.
	_, err := Parse("+1234")
	assert.ErrorIs(t, err, ErrParse)
}
