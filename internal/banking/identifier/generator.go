// Package identifier generates account numbers, card numbers and CVVs, and
// resolves them to values that are free in a given scope.
package identifier

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// CardNumberLength is the PAN length including the Luhn check digit.
	CardNumberLength = 16
	// CVVLength is the number of digits in a card verification value.
	CVVLength = 3
	// AccountNumberLength is the number of digits in an account number.
	AccountNumberLength = 10

	defaultBIN = "4517"
)

// Generator draws random candidate identifiers. It is safe for concurrent use.
type Generator struct {
	entropy io.Reader
	bin     string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithEntropy replaces crypto/rand as the randomness source. Tests use it to
// force collisions or entropy failures.
func WithEntropy(r io.Reader) GeneratorOption {
	return func(g *Generator) {
		g.entropy = r
	}
}

// WithBIN sets the issuer prefix of generated card numbers.
func WithBIN(bin string) GeneratorOption {
	return func(g *Generator) {
		if bin != "" {
			g.bin = bin
		}
	}
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{entropy: rand.Reader, bin: defaultBIN}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AccountNumber returns a 10-digit account number. Leading zeros are kept.
func (g *Generator) AccountNumber() (string, error) {
	return g.digits(AccountNumberLength)
}

// CardNumber returns a Luhn-valid 16-digit PAN starting with the BIN,
// grouped as NNNN-NNNN-NNNN-NNNN.
func (g *Generator) CardNumber() (string, error) {
	if len(g.bin) >= CardNumberLength {
		return "", fmt.Errorf("bin %q leaves no room for account digits", g.bin)
	}
	body, err := g.digits(CardNumberLength - 1 - len(g.bin))
	if err != nil {
		return "", err
	}
	body = g.bin + body
	return FormatPAN(body + luhnCheckDigit(body)), nil
}

// CVV returns a 3-digit verification value. Leading zeros are kept.
func (g *Generator) CVV() (string, error) {
	return g.digits(CVVLength)
}

// digits generates count decimal digits by rejection sampling: only bytes
// below 250 are accepted so each digit is uniform.
func (g *Generator) digits(count int) (string, error) {
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		n, err := g.entropy.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if b := buf[i]; b < threshold {
				sb.WriteByte('0' + b%10)
			}
		}
	}
	return sb.String(), nil
}

func luhnCheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	return string('0' + byte((10-sum%10)%10))
}

// ValidLuhn reports whether a digit string (dashes ignored) passes the Luhn check.
func ValidLuhn(pan string) bool {
	pan = strings.ReplaceAll(pan, "-", "")
	if len(pan) < 2 || strings.Trim(pan, "0123456789") != "" {
		return false
	}
	body := pan[:len(pan)-1]
	return luhnCheckDigit(body)[0] == pan[len(pan)-1]
}

// FormatPAN groups a 16-digit PAN into four dash-separated blocks.
func FormatPAN(pan string) string {
	if len(pan) != CardNumberLength {
		return pan
	}
	return pan[0:4] + "-" + pan[4:8] + "-" + pan[8:12] + "-" + pan[12:16]
}

// MaskPAN keeps only the last four digits visible.
func MaskPAN(pan string) string {
	if len(pan) < 4 {
		return pan
	}
	return "****-****-****-" + pan[len(pan)-4:]
}
