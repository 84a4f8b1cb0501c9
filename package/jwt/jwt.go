package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotJWT       = errors.New("token is not a JWT")
	ErrExpiredToken = errors.New("token has expired")
)

// Inspection is what the portal can learn from a backend-issued token
// without holding the signing key.
type Inspection struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
	HasExpiry bool
}

type portalClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Inspect decodes token without verifying its signature. Opaque tokens
// return ErrNotJWT.
func Inspect(token string) (*Inspection, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return nil, ErrNotJWT
	}

	claims := &portalClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	inspection := &Inspection{
		Subject: claims.Subject,
		Email:   claims.Email,
	}
	if claims.ExpiresAt != nil {
		inspection.ExpiresAt = claims.ExpiresAt.Time
		inspection.HasExpiry = true
	}

	return inspection, nil
}

// Expired reports whether the inspection carries an exp claim at or before now.
func (i *Inspection) Expired(now time.Time) bool {
	return i.HasExpiry && !now.Before(i.ExpiresAt)
}

// CheckUsable returns ErrExpiredToken when token is a JWT whose exp has
// passed. Opaque tokens and tokens without exp are usable.
func CheckUsable(token string, now time.Time) (*Inspection, error) {
	inspection, err := Inspect(token)
	if err != nil {
		if errors.Is(err, ErrNotJWT) {
			return nil, nil
		}
		return nil, err
	}

	if inspection.Expired(now) {
		return inspection, ErrExpiredToken
	}
	return inspection, nil
}
