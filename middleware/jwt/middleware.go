package jwt

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fleetdeck/authcore/services/token"
	"github.com/labstack/echo/v4"
)

const (
	UserIDKey = "_jwt_user_id"
	ClaimsKey = "_jwt_claims"
)

// RequireAccessToken rejects requests without a valid bearer token and
// stashes the verified claims on the request context.
func RequireAccessToken(tokenService *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token required")
			}

			claims, err := tokenService.ValidateAccessToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, token.ErrExpiredAccessToken):
					return echo.NewHTTPError(http.StatusUnauthorized, "Access token has expired")
				case errors.Is(err, token.ErrMalformedAccessToken):
					return echo.NewHTTPError(http.StatusUnauthorized, "Malformed access token")
				case errors.Is(err, token.ErrInvalidSignature):
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access token signature")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access token")
				}
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

// RequireRole layers a role check on top of RequireAccessToken. It must
// run after it in the chain.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token required")
			}
			if claims.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient role")
			}
			return next(c)
		}
	}
}

func GetUserID(c echo.Context) uint {
	if userID, ok := c.Get(UserIDKey).(uint); ok {
		return userID
	}
	return 0
}

func GetClaims(c echo.Context) *token.Claims {
	if claims, ok := c.Get(ClaimsKey).(*token.Claims); ok {
		return claims
	}
	return nil
}

func GetRole(c echo.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Role
	}
	return ""
}
