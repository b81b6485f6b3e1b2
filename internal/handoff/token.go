package handoff

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/meguriba/meguriba-backend/internal/model"
)

// Codes are a 2-letter type tag plus 8 random characters, short enough
// to type by hand at the meetup when scanning is unavailable.
const (
	TagExchange = "EX"
	TagDonation = "DN"

	randLen = 8
)

// No I, O, 0 or 1: the code is read aloud and typed on phones.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var ErrBadType = errors.New("unknown negotiation type")

// Mint generates a fresh handoff code for the given negotiation type.
func Mint(t model.NegotiationType) (string, error) {
	var tag string
	switch t {
	case model.NegotiationTypeExchange:
		tag = TagExchange
	case model.NegotiationTypeDonation:
		tag = TagDonation
	default:
		return "", ErrBadType
	}
	buf := make([]byte, randLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return tag + string(buf), nil
}

// Normalize trims surrounding whitespace and upcases a submitted code so
// camera-scanned and hand-typed entries compare equal.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Match reports whether a submitted code matches the stored one.
func Match(stored, submitted string) bool {
	if stored == "" {
		return false
	}
	return Normalize(stored) == Normalize(submitted)
}

// QRURL returns a rendering URL for the code so clients can show it as a
// scannable image next to the plain text.
func QRURL(code string) string {
	return fmt.Sprintf("https://api.qrserver.com/v1/create-qr-code/?size=240x240&data=%s", url.QueryEscape(code))
}
