package orders

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// NormalizeIdentity turns an e-mail address into the key that identifies a
// person: lower-cased, trimmed, with any +tag dropped from the local part.
func NormalizeIdentity(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidRequest, email)
	}

	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	if local == "" {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidRequest, email)
	}

	return local + "@" + domain, nil
}

// NewStatusToken returns an unguessable URL-safe token for public order look-up.
func NewStatusToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
