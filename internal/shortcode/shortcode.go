// Package shortcode converts between numeric media ids and post short codes.
package shortcode

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Alphabet is the 64-character digit set, most significant first.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// ErrInvalidCode is returned for codes that cannot be decoded.
var ErrInvalidCode = errors.New("invalid short code")

var index = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// Encode renders id in base 64 without padding.
func Encode(id uint64) string {
	if id == 0 {
		return Alphabet[:1]
	}
	var buf [11]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = Alphabet[id&63]
		id >>= 6
	}
	return string(buf[i:])
}

// Decode parses a short code back into its numeric id.
func Decode(code string) (uint64, error) {
	if code == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	var id uint64
	for i := 0; i < len(code); i++ {
		d := index[code[i]]
		if d < 0 {
			return 0, fmt.Errorf("%w: character %q at %d", ErrInvalidCode, code[i], i)
		}
		if bits.LeadingZeros64(id) < 6 {
			return 0, fmt.Errorf("%w: overflows 64 bits", ErrInvalidCode)
		}
		id = id<<6 | uint64(d)
	}
	return id, nil
}

// Valid reports whether every character of code belongs to the alphabet.
func Valid(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		if index[code[i]] < 0 {
			return false
		}
	}
	return true
}

// PostIDFromMediaID converts "<media>" or "<media>_<owner>" into a short code.
func PostIDFromMediaID(raw string) (string, error) {
	mediaPart, _, _ := strings.Cut(strings.TrimSpace(raw), "_")
	id, err := strconv.ParseUint(mediaPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse media id %q: %w", raw, err)
	}
	return Encode(id), nil
}
