// Package callprovider mints room join tokens for the external video
// call provider. Media never touches this service; participants take
// the token straight to the provider's edge.
package callprovider

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/talenthall/backend/config"
)

// RoomClaims is the token payload the call provider verifies.
type RoomClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	RoomName string    `json:"room_name"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs room join tokens with the shared provider secret.
type TokenService struct {
	secret []byte
	expire time.Duration
}

// NewTokenService creates a token service from provider config.
func NewTokenService(cfg config.CallProviderConfig) *TokenService {
	expire := time.Duration(cfg.TokenExpireMins) * time.Minute
	if expire <= 0 {
		expire = 4 * time.Hour
	}
	return &TokenService{secret: []byte(cfg.TokenSecret), expire: expire}
}

// RoomToken returns a signed token admitting the user to the room.
func (s *TokenService) RoomToken(userID uuid.UUID, roomName, role string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.expire)
	claims := RoomClaims{
		UserID:   userID,
		RoomName: roomName,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
