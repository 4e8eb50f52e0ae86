package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sells-group/leadsync/internal/model"
)

// NormalizePhone reduces a phone number to E.164 digits with a leading "+".
// Kenyan local forms are expanded to the 254 country code:
// "0712345678" and "712345678" both become "+254712345678". It returns ""
// when the input has no digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 10 && digits[0] == '0':
		digits = "254" + digits[1:]
	case len(digits) == 9 && digits[0] == '7':
		digits = "254" + digits
	}
	return "+" + digits
}

// HashPhone returns the hex SHA-256 of the normalized phone number, or "" when
// there is nothing to hash.
func HashPhone(phone string) string {
	p := NormalizePhone(phone)
	if p == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

// HashEmail returns the hex SHA-256 of the lower-cased, trimmed address.
func HashEmail(email string) string {
	return model.HashEmail(email)
}
