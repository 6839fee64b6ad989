package middleware

import (
	"net/http"
	"strings"

	"github.com/technosupport/faceguard/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// ServiceAuth verifies the service JWT carried on inter-service requests.
type ServiceAuth struct {
	tokens TokenValidator
}

func NewServiceAuth(t TokenValidator) *ServiceAuth {
	return &ServiceAuth{tokens: t}
}

// Middleware verifies the bearer token and injects the ServiceContext.
func (m *ServiceAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		sc := &ServiceContext{
			Service: claims.Service,
			TokenID: claims.ID,
		}
		next.ServeHTTP(w, r.WithContext(WithServiceContext(r.Context(), sc)))
	})
}
