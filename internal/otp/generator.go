package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Character alphabets for generated codes. The character alphabet drops
// visually confusable symbols (I, L, O, 0, 1) so codes survive being read
// off a screen or a printed letter.
const (
	AlphabetCharacter = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	AlphabetDigit     = "0123456789"
)

var ErrInvalidLength = errors.New("otp length must be positive")

// defaultDenylist covers words we never want inside a code a user has to
// read out loud to a call-center agent. Entries are matched as substrings
// after confusable-digit folding.
var defaultDenylist = []string{
	"ASS", "CRAP", "DAMN", "FART", "FUC", "FUK", "HELL",
	"PISS", "PORN", "SEX", "SHIT", "SLUT", "TITS",
}

// digitFolder maps leetspeak-ish digits back to the letters they resemble
// before the denylist check.
var digitFolder = strings.NewReplacer(
	"3", "E", "4", "A", "5", "S", "6", "G", "7", "T", "8", "B",
)

// Generator produces fixed-width, uniformly distributed codes from a
// restricted alphabet, rejecting any draw that matches the profanity
// denylist.
type Generator struct {
	alphabet string
	denylist []string
}

func NewGenerator(extraDenied []string) *Generator {
	denylist := make([]string, 0, len(defaultDenylist)+len(extraDenied))
	denylist = append(denylist, defaultDenylist...)
	for _, w := range extraDenied {
		if w = strings.ToUpper(strings.TrimSpace(w)); w != "" {
			denylist = append(denylist, w)
		}
	}
	return &Generator{alphabet: AlphabetCharacter, denylist: denylist}
}

// WithAlphabet returns a generator drawing from a different alphabet but
// sharing the denylist.
func (g *Generator) WithAlphabet(alphabet string) *Generator {
	return &Generator{alphabet: alphabet, denylist: g.denylist}
}

// Generate returns a code of exactly length characters. Draws matching the
// denylist are discarded and redrawn.
func (g *Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	// A denylist hit is rare enough that a handful of redraws is plenty;
	// the cap only guards against a pathological denylist.
	for attempt := 0; attempt < 16; attempt++ {
		code, err := g.draw(length)
		if err != nil {
			return "", err
		}
		if !g.containsProfanity(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate clean code of length %d", length)
}

func (g *Generator) draw(length int) (string, error) {
	out := make([]byte, length)
	buf := make([]byte, length)

	// Rejection sampling keeps the distribution uniform: any byte at or
	// above the largest whole multiple of len(alphabet) is redrawn.
	max := byte(256 - 256%len(g.alphabet))
	filled := 0
	for filled < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if filled == length {
				break
			}
			if max != 0 && b >= max {
				continue
			}
			out[filled] = g.alphabet[int(b)%len(g.alphabet)]
			filled++
		}
	}
	return string(out), nil
}

func (g *Generator) containsProfanity(code string) bool {
	folded := digitFolder.Replace(strings.ToUpper(code))
	for _, word := range g.denylist {
		if strings.Contains(folded, word) || strings.Contains(code, word) {
			return true
		}
	}
	return false
}
