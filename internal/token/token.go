package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Токен несет код пользователя и его роль на момент входа.
// Для проверки прав роль перечитывается из хранилища

type Claims struct {
	jwt.RegisteredClaims
	UserCode string `json:"userCode"`
	Role     string `json:"role"`
}

const tokenExp = time.Hour * 24

var ErrInvalidToken = errors.New("invalid token")

func BuildJWTString(userCode string, role string, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExp)),
		},
		UserCode: userCode,
		Role:     role,
	})

	return token.SignedString([]byte(secret))
}

func GetUserCode(tokenString string, secret string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return []byte(secret), nil
		})
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", ErrInvalidToken
	}

	return claims.UserCode, claims.Role, nil
}
