package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Mint signs an HS256 token over arbitrary claims. Verification has its own
// path (see Verifier); minting goes through golang-jwt.
func Mint(secret string, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// IssueToken mints a standard gateway token: fresh jti, iat now, exp after
// lifetime. Callers should keep lifetime within MaxTokenLifetime or the
// verifier will reject the result.
func IssueToken(secret, subject string, lifetime time.Duration, now time.Time) (string, error) {
	return Mint(secret, jwt.MapClaims{
		"sub": subject,
		"jti": uuid.New().String(),
		"iat": now.Unix(),
		"exp": now.Add(lifetime).Unix(),
	})
}
