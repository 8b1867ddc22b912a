package phone

import (
	"errors"
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

var ErrParse = errors.New("phone parse failed")

// Parsed is the subset of phone metadata the OTP flows need: the canonical
// E.164 form for delivery and the country/area codes for analytics.
type Parsed struct {
	E164        string
	CountryCode string
	AreaCode    string
}

// Parse validates and normalizes a destination phone number. A malformed
// number returns an error wrapping ErrParse; callers must abort delivery.
func Parse(raw string) (*Parsed, error) {
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return nil, fmt.Errorf("%w: invalid number", ErrParse)
	}

	return &Parsed{
		E164:        phonenumbers.Format(num, phonenumbers.E164),
		CountryCode: phonenumbers.GetRegionCodeForNumber(num),
		AreaCode:    areaCode(num),
	}, nil
}

func areaCode(num *phonenumbers.PhoneNumber) string {
	national := phonenumbers.GetNationalSignificantNumber(num)
	length := phonenumbers.GetLengthOfGeographicalAreaCode(num)
	if length == 0 || length > len(national) {
		return ""
	}
	return national[:length]
}
