package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the calling service on inter-service requests. FaceGuard
// has no end users; all authenticated traffic is service to service.
type Claims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateServiceToken mints an HS256 token for one service identity.
func (m *Manager) GenerateServiceToken(service string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   service,
			Audience:  jwt.ClaimStrings{"faceguard-internal"},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// kid reserved for key rotation
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Service == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
