package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
)

// Claims holds the seat token payload: which battle and which side the
// bearer may act for.
type Claims struct {
	BattleID string `json:"battle_id"`
	Player   int    `json:"player"`
	jwt.RegisteredClaims
}

// JWTManager issues and checks seat tokens.
type JWTManager struct {
	secret     []byte
	seatExpiry time.Duration
}

// NewJWTManager creates a JWTManager with the given secret. A zero ttl
// means seat tokens last a week.
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), seatExpiry: ttl}
}

// GenerateSeatToken creates the token for one seat of a battle.
func (m *JWTManager) GenerateSeatToken(battleID string, player int) (string, error) {
	now := time.Now()
	claims := &Claims{
		BattleID: battleID,
		Player:   player,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.seatExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   battleID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT string, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.BattleID == "" || (claims.Player != 0 && claims.Player != 1) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
