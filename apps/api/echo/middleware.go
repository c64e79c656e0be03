package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehub/shule/core/auth"
)

const contextClaimsKey = "accessClaims"

// bearerAuthMiddleware extracts the "Authorization: Bearer" access token,
// validates it (signature, expiry, kind, user still enabled) and attaches the
// decoded claims to the request context. All failures collapse to a 401.
func bearerAuthMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			header := ctx.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return errUnauthorized
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return errUnauthorized
			}

			claims := svc.ValidateAccessToken(ctx.Request().Context(), parts[1])
			if claims == nil {
				return errUnauthorized
			}

			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

func getContextClaims(ctx echo.Context) (*auth.AccessClaims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*auth.AccessClaims); ok {
		return claims, nil
	}
	return nil, errors.Wrap(errUnauthorized, "getting context claims")
}

// requirePermission gates an endpoint on a "resource:action" tag from the
// access token's permission snapshot.
func requirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			for _, p := range claims.Permissions {
				if p == perm {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}
