// Package auth identifies the acting user of a request. Tokens are issued by
// the upstream gateway; this service only verifies them and reads the actor.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorKey      contextKey = "actor_id"
	ActorRolesKey contextKey = "actor_roles"
)

// ActorHeader carries the actor id in development mode.
const ActorHeader = "X-Actor-ID"

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// AllowHeader accepts ActorHeader when no bearer token is sent. It is
	// enabled in development only.
	AllowHeader bool
}

// ActorMiddleware verifies the gateway-issued HS256 bearer token and stores
// its subject as the actor id. Public infrastructure paths are skipped.
func ActorMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				if cfg.AllowHeader {
					if id, err := uuid.Parse(c.Request().Header.Get(ActorHeader)); err == nil && id != uuid.Nil {
						c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), id)))
						return next(c)
					}
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := uuid.Parse(claims.Subject)
			if err != nil || actor == uuid.Nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a valid actor id")
			}

			ctx := WithActor(c.Request().Context(), actor)
			ctx = context.WithValue(ctx, ActorRolesKey, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ActorKey, id)
}

// ActorFromContext returns the acting user. ok is false when the request
// carried no identifiable actor.
func ActorFromContext(ctx context.Context) (id uuid.UUID, ok bool) {
	id, ok = ctx.Value(ActorKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(ActorRolesKey).([]string)
	return roles
}

// Actor reads the acting user from an echo request, answering 401 when it
// is missing.
func Actor(c echo.Context) (uuid.UUID, error) {
	id, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "no actor on request")
	}
	return id, nil
}
