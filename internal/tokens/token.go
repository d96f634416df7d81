// Package tokens generates the opaque strings printed in ticket QR codes.
package tokens

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Prefix marks a signup ticket token.
const Prefix = "r"

const (
	alphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	randomLen  = 10
	partsCount = 5
)

// MaxLen bounds the length of a token accepted from a scanner.
const MaxLen = 128

var (
	// ErrInvalidID is returned when a signup or event id is not positive.
	ErrInvalidID = errors.New("tokens: ids must be positive")
	// ErrMalformed is returned by Parse for strings that are not ticket tokens.
	ErrMalformed = errors.New("tokens: malformed token")
)

// Generator produces ticket tokens. The zero value is ready to use.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a Generator using the given clock (nil means time.Now).
func NewGenerator(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate returns r-<signupID>-<eventID>-<base36 millis>-<random>.
func (g *Generator) Generate(signupID, eventID int64) (string, error) {
	if signupID <= 0 || eventID <= 0 {
		return "", ErrInvalidID
	}
	now := time.Now
	if g != nil && g.now != nil {
		now = g.now
	}
	random, err := randomString(randomLen)
	if err != nil {
		return "", fmt.Errorf("tokens: entropy: %w", err)
	}
	return strings.Join([]string{
		Prefix,
		strconv.FormatInt(signupID, 10),
		strconv.FormatInt(eventID, 10),
		strconv.FormatInt(now().UnixMilli(), 36),
		random,
	}, "-"), nil
}

// Generate uses a default Generator.
func Generate(signupID, eventID int64) (string, error) {
	return (*Generator)(nil).Generate(signupID, eventID)
}

// Parse extracts the ids embedded in a token. It does not prove the token was issued.
// The random part may be of any length so tokens issued by older clients still parse.
func Parse(token string) (signupID, eventID int64, err error) {
	parts := strings.Split(token, "-")
	if len(parts) != partsCount || parts[0] != Prefix || parts[3] == "" || parts[4] == "" {
		return 0, 0, ErrMalformed
	}
	signupID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || signupID <= 0 {
		return 0, 0, ErrMalformed
	}
	eventID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || eventID <= 0 {
		return 0, 0, ErrMalformed
	}
	return signupID, eventID, nil
}

// CheckFormat rejects strings that cannot be a scanned token: empty, longer than MaxLen,
// or containing whitespace or control characters. Well-formed strings may still be unknown.
func CheckFormat(token string) error {
	if token == "" || len(token) > MaxLen {
		return ErrMalformed
	}
	for _, r := range token {
		if r <= ' ' || r == 0x7f || !unicode.IsPrint(r) {
			return ErrMalformed
		}
	}
	return nil
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[v.Int64()]
	}
	return string(b), nil
}
