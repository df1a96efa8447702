package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/auth"
	"github.com/teamtally/tally/pkg/domain"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
)

// Credential is one login account from the server config.
type Credential struct {
	// hex encoded SHA-256 of the password.
	PasswordHash string
	Permissions  auth.Permission
}

var errBadLogin = domerr.WithCategory(
	domerr.CategoryAuth, errors.New("unknown user or wrong password"),
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler exchanges a username and password for a signed token.
//
// The lookup result does not short-circuit the digest comparison;
// unknown users and wrong passwords cost the same and answer the same.
func LoginHandler(issuer *auth.Issuer, users map[string]Credential, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(err)
		}

		cred, known := users[req.Username]
		digest := sha256.Sum256([]byte(req.Password))
		want, err := hex.DecodeString(cred.PasswordHash)
		if err != nil || len(want) != sha256.Size {
			want = make([]byte, sha256.Size)
			known = false
		}
		if subtle.ConstantTimeCompare(digest[:], want) != 1 || !known {
			return toHTTP(errBadLogin)
		}

		token, err := issuer.Issue(req.Username, cred.Permissions)
		if err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryAdminLogin, map[string]any{
			"username": req.Username,
		})
		return c.JSON(200, loginResponse{Token: token})
	}
}

// RequirePermission guards a route group with a bearer-token check. The
// verified claims land in the context under "claims".
func RequirePermission(issuer *auth.Issuer, want auth.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return toHTTP(domerr.WithCategory(
					domerr.CategoryAuth, errors.New("missing bearer token"),
				))
			}
			claims, err := issuer.Assert(token, want)
			if err != nil {
				return toHTTP(err)
			}
			c.Set("claims", claims)
			return next(c)
		}
	}
}
