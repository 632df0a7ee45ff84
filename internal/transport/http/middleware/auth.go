package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/service"
	"github.com/pribylovaa/go-auth-service/internal/tokens"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/httperr"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal — аутентифицированный субъект запроса.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// PrincipalFrom достаёт субъекта из контекста запроса.
// Второе значение false означает, что запрос не проходил Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// TokenValidator — контракт проверки access-токена (реализует service.Service).
type TokenValidator interface {
	ValidateAccess(accessToken string) (*tokens.Claims, error)
}

// Authenticate требует валидный Bearer access-токен и кладёт Principal
// в контекст. Без токена или с битым токеном — 401, дальше запрос не идёт.
func Authenticate(v TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httperr.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			claims, err := v.ValidateAccess(token)
			if err != nil {
				httperr.WriteError(w, r, err)
				return
			}

			p := Principal{
				UserID: claims.UserID,
				Email:  claims.Email,
				Role:   claims.Role,
			}

			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пускает дальше только субъектов с указанной ролью.
// Вешается ПОСЛЕ Authenticate.
func RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				httperr.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			if p.Role != role {
				httperr.WriteError(w, r, httperr.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin — сокращение для RequireRole(models.RoleAdmin).
func RequireAdmin() Middleware {
	return RequireRole(models.RoleAdmin)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) || len(auth) <= len(prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
