package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domerr "github.com/teamtally/tally/pkg/domain/errors"
)

// Permission is a capability bit. Tokens carry an or-ed mask.
type Permission uint32

const (
	// PermRoster: read and edit the student roster.
	PermRoster Permission = 1 << iota
	// PermHoursView: read attendance data and exports.
	PermHoursView
	// PermHoursEdit: mutate attendance records through the editor.
	PermHoursEdit
	// PermAdmin implies everything.
	PermAdmin
	// PermTelemetry: read the audit log and its live stream.
	PermTelemetry
)

// Has reports whether the mask grants want. Admin passes every check.
func (p Permission) Has(want Permission) bool {
	if p&PermAdmin != 0 {
		return true
	}
	return p&want == want
}

var ErrForbidden = domerr.WithCategory(
	domerr.CategoryAuth, errors.New("insufficient permission"),
)

type Claims struct {
	Permissions Permission `json:"perms"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies the tokens this server accepts. HS256 with a
// single shared key; there is no cross-service audience to federate with.
type Issuer struct {
	key []byte
	ttl time.Duration

	// overridable for tests.
	now func() time.Time
}

func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(subject string, perms Permission) (string, error) {
	now := i.now()
	claims := Claims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Verify parses the token and returns its claims. Any failure, expiry
// included, comes back in the auth category.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(t *jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, domerr.WithCategory(
			domerr.CategoryAuth, fmt.Errorf("verify token: %w", err),
		)
	}
	return claims, nil
}

// Assert verifies the token and demands the permission in one step.
func (i *Issuer) Assert(token string, want Permission) (*Claims, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.Permissions.Has(want) {
		return nil, ErrForbidden
	}
	return claims, nil
}
