package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/token"
)

const accountContextKey = "account"

// JWTAuth validates the Bearer access token through the token service, so
// the check covers signature, expiry, account status and the backing
// session in one pass. A token for a revoked session dies here even if its
// signature is still good. The resolved account is stored on the context.
func JWTAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(authz, "Bearer ")

			account, err := tokens.VerifyAccess(c.Request().Context(), raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authErrorMessage(err)})
			}
			c.Set(accountContextKey, &account)
			// String form for the rate limiter's key builder.
			c.Set("account_id", strconv.FormatUint(account.ID, 10))
			return next(c)
		}
	}
}

// OptionalJWTAuth resolves the account when a valid Bearer token is
// presented and lets the request through anonymously otherwise. Portal
// routes use it: guests redeem vouchers with no account at all, while a
// logged-in account gets the redemption attributed to it. A token that is
// present but dead is still rejected, so a revoked session cannot keep
// acting as its account by hitting the optional surface.
func OptionalJWTAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				return next(c)
			}
			raw := strings.TrimPrefix(authz, "Bearer ")

			account, err := tokens.VerifyAccess(c.Request().Context(), raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authErrorMessage(err)})
			}
			c.Set(accountContextKey, &account)
			c.Set("account_id", strconv.FormatUint(account.ID, 10))
			return next(c)
		}
	}
}

func authErrorMessage(err error) string {
	switch err {
	case token.ErrTokenExpired:
		return "token expired"
	case token.ErrSessionExpired:
		return "session expired"
	case token.ErrSessionInvalid:
		return "session invalid"
	case token.ErrAccountInactive:
		return "account inactive"
	}
	return "invalid token"
}

// CurrentAccount returns the account JWTAuth resolved for this request,
// or nil on unauthenticated routes.
func CurrentAccount(c echo.Context) *model.Account {
	a, _ := c.Get(accountContextKey).(*model.Account)
	return a
}

// RequireRole aborts with 403 unless the authenticated account holds one
// of the given roles. It must run after JWTAuth.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			a := CurrentAccount(c)
			if a == nil || !allowed[a.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
